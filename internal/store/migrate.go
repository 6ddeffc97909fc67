package store

import "fmt"

// Migrate copies the roster and the ledger from src to dst. This works for:
// - file -> postgres (moving a kiosk onto a shared database)
// - postgres -> file (backup or offline use)
func Migrate(src, dst Store) error {
	people, err := src.LoadRoster()
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}
	events, err := src.LoadLedger()
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if err := dst.SaveRoster(people); err != nil {
		return fmt.Errorf("failed to save roster: %w", err)
	}
	if err := dst.SaveLedger(events); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}
