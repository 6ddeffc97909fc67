package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/celerix-presence/internal/vault"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

const (
	rosterFile = "roster.json"
	ledgerFile = "ledger.json"
)

// rosterDocument is the on-disk roster. When Sealed is set every
// ReferenceImage holds the hex output of vault.Seal.
type rosterDocument struct {
	Sealed bool            `json:"sealed"`
	People []schema.Person `json:"people"`
}

// FileStore keeps roster.json and ledger.json in a data directory.
type FileStore struct {
	DataDir string
	key     []byte
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewFileStore creates dir if needed. A non-nil key seals reference images.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if key != nil && len(key) != vault.KeySize {
		return nil, vault.ErrKeySize
	}
	return &FileStore{DataDir: dir, key: key}, nil
}

// SaveRoster writes the roster atomically.
func (s *FileStore) SaveRoster(people []schema.Person) error {
	doc := rosterDocument{People: make([]schema.Person, len(people))}
	copy(doc.People, people)
	if s.key != nil {
		doc.Sealed = true
		for i := range doc.People {
			sealed, err := vault.Seal(doc.People[i].ReferenceImage, s.key)
			if err != nil {
				return fmt.Errorf("seal reference image for %s: %w", doc.People[i].ID, err)
			}
			doc.People[i].ReferenceImage = []byte(sealed)
		}
	}
	return s.writeJSON(rosterFile, doc)
}

// LoadRoster returns nil when no roster has been saved yet.
func (s *FileStore) LoadRoster() ([]schema.Person, error) {
	var doc rosterDocument
	found, err := s.readJSON(rosterFile, &doc)
	if err != nil || !found {
		return nil, err
	}
	if !doc.Sealed {
		return doc.People, nil
	}
	if s.key == nil {
		return nil, ErrSealed
	}
	for i := range doc.People {
		img, err := vault.Open(string(doc.People[i].ReferenceImage), s.key)
		if err != nil {
			return nil, fmt.Errorf("open reference image for %s: %w", doc.People[i].ID, err)
		}
		doc.People[i].ReferenceImage = img
	}
	return doc.People, nil
}

// SaveLedger writes the ledger atomically in insertion order.
func (s *FileStore) SaveLedger(events []schema.AttendanceEvent) error {
	if events == nil {
		events = []schema.AttendanceEvent{}
	}
	return s.writeJSON(ledgerFile, events)
}

// LoadLedger returns nil when no ledger has been saved yet.
func (s *FileStore) LoadLedger() ([]schema.AttendanceEvent, error) {
	var events []schema.AttendanceEvent
	if _, err := s.readJSON(ledgerFile, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(s.DataDir, name)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}
	// Rename is atomic: readers see the old file or the new one.
	return os.Rename(tempPath, filePath)
}

func (s *FileStore) readJSON(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(s.DataDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}
