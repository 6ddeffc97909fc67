// Package store persists the roster and the attendance ledger for the host.
package store

import (
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

var (
	// ErrSealed is returned when sealed reference images are found but no
	// vault key is configured.
	ErrSealed = errors.New("roster is sealed and no vault key is configured")
	// ErrUnknownDriver is returned by Open for unsupported drivers.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Store is the persistence boundary. Both the file store and the Postgres
// store implement it.
type Store interface {
	LoadRoster() ([]schema.Person, error)
	SaveRoster(people []schema.Person) error
	LoadLedger() ([]schema.AttendanceEvent, error)
	SaveLedger(events []schema.AttendanceEvent) error
	Close() error
}

// Options selects and configures a store.
type Options struct {
	Driver   string
	DataDir  string
	DSN      string
	VaultKey []byte
}

// Open returns the store named by opts.Driver ("file" or "postgres").
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		s, err := NewFileStore(opts.DataDir, opts.VaultKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(opts.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
