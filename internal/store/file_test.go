package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/celerix-dev/celerix-presence/internal/vault"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

var testKey = bytes.Repeat([]byte{0x42}, vault.KeySize)

func samplePeople() []schema.Person {
	return []schema.Person{
		{ID: "A1", DisplayName: "Ana", BaselineScore: 80, ReferenceImage: []byte("ana-face"), EnrolledAt: 1},
		{ID: "B2", DisplayName: "Ben", BaselineScore: 91, ReferenceImage: []byte("ben-face"), EnrolledAt: 2},
	}
}

func sampleEvents() []schema.AttendanceEvent {
	return []schema.AttendanceEvent{
		{ID: "E1", PersonID: "A1", OccurredAt: 100, Period: 1, Confidence: 0.9, Status: schema.StatusPresent},
		{ID: "E2", PersonID: "B2", OccurredAt: 200, Period: 2, Confidence: 0.8, Status: schema.StatusPresent},
	}
}

func TestFileStore_MissingFilesAreEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	people, err := s.LoadRoster()
	if err != nil || len(people) != 0 {
		t.Errorf("Expected empty roster, got %v, %v", people, err)
	}
	events, err := s.LoadLedger()
	if err != nil || len(events) != 0 {
		t.Errorf("Expected empty ledger, got %v, %v", events, err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, nil)

	if err := s.SaveRoster(samplePeople()); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}
	if err := s.SaveLedger(sampleEvents()); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}

	reopened, _ := NewFileStore(dir, nil)
	people, err := reopened.LoadRoster()
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if len(people) != 2 || people[1].ID != "B2" || string(people[0].ReferenceImage) != "ana-face" {
		t.Errorf("Unexpected roster: %+v", people)
	}
	events, err := reopened.LoadLedger()
	if err != nil {
		t.Fatalf("LoadLedger failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "E1" || events[1].Period != 2 {
		t.Errorf("Unexpected ledger: %+v", events)
	}
	if _, err := os.Stat(filepath.Join(dir, ledgerFile+".tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Error("Temp file left behind")
	}
}

func TestFileStore_SealsReferenceImages(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testKey)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := s.SaveRoster(samplePeople()); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, rosterFile))
	if strings.Contains(string(raw), "YW5hLWZhY2U") { // base64 of "ana-face"
		t.Error("Reference image stored in the clear")
	}

	people, err := s.LoadRoster()
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if string(people[0].ReferenceImage) != "ana-face" {
		t.Errorf("Expected unsealed image, got %q", people[0].ReferenceImage)
	}

	plain, _ := NewFileStore(dir, nil)
	if _, err := plain.LoadRoster(); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed without a key, got %v", err)
	}
}

func TestFileStore_RejectsShortKey(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), []byte("short")); !errors.Is(err, vault.ErrKeySize) {
		t.Errorf("Expected ErrKeySize, got %v", err)
	}
}

func TestFileStore_CorruptLedger(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ledgerFile), []byte("{not json"), 0644)
	s, _ := NewFileStore(dir, nil)
	if _, err := s.LoadLedger(); err == nil {
		t.Error("Expected an error for a corrupt ledger")
	}
}

func TestMigrate(t *testing.T) {
	src, _ := NewFileStore(t.TempDir(), nil)
	dst, _ := NewFileStore(t.TempDir(), testKey)
	src.SaveRoster(samplePeople())
	src.SaveLedger(sampleEvents())

	if err := Migrate(src, dst); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	people, _ := dst.LoadRoster()
	events, _ := dst.LoadLedger()
	if len(people) != 2 || len(events) != 2 {
		t.Errorf("Expected 2 people and 2 events, got %d and %d", len(people), len(events))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "redis"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Expected ErrUnknownDriver, got %v", err)
	}
}
