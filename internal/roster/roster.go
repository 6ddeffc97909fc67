// Package roster keeps the enrolled people the scanner can recognise.
package roster

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/photo"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidEnrollment wraps validation failures on enrollment input.
	ErrInvalidEnrollment = errors.New("invalid enrollment")
	// ErrPersonNotFound is returned by Get for unknown ids.
	ErrPersonNotFound = errors.New("person not found")
)

// Persister writes the full roster after each enrollment.
type Persister interface {
	SaveRoster(people []schema.Person) error
}

// EnrollRequest is the data an enrollment station supplies.
type EnrollRequest struct {
	DisplayName    string `json:"displayName" validate:"required"`
	BaselineScore  int    `json:"baselineScore" validate:"min=0,max=100"`
	ReferenceImage []byte `json:"referenceImage" validate:"required,min=1"`
}

// Roster is safe for concurrent use.
type Roster struct {
	mu     sync.RWMutex
	people []schema.Person
	byID   map[string]int

	persister Persister
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
	wg        sync.WaitGroup
	saveMu    sync.Mutex
}

// New builds a roster from previously persisted entries. p may be nil.
func New(initial []schema.Person, p Persister, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Roster{
		people:    append([]schema.Person(nil), initial...),
		byID:      make(map[string]int, len(initial)),
		persister: p,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
	for i, person := range r.people {
		r.byID[person.ID] = i
	}
	return r
}

// Enroll validates req, assigns an id and appends the new person.
func (r *Roster) Enroll(req EnrollRequest) (schema.Person, error) {
	if err := r.validate.Struct(req); err != nil {
		return schema.Person{}, fmt.Errorf("%w: %v", ErrInvalidEnrollment, err)
	}

	person := schema.Person{
		DisplayName:    req.DisplayName,
		BaselineScore:  req.BaselineScore,
		ReferenceImage: photo.NormalizeOrRaw(req.ReferenceImage),
		EnrolledAt:     r.now().UnixMilli(),
	}

	r.mu.Lock()
	for person.ID == "" || r.has(person.ID) {
		person.ID = newPersonID()
	}
	r.byID[person.ID] = len(r.people)
	r.people = append(r.people, person)
	snapshot := append([]schema.Person(nil), r.people...)
	r.mu.Unlock()

	r.logger.Info("person_enrolled", "person", person.ID, "baseline", person.BaselineScore)

	if r.persister != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.saveMu.Lock()
			defer r.saveMu.Unlock()
			// Saves are serialised; skip stale snapshots.
			if len(snapshot) < r.Len() {
				return
			}
			if err := r.persister.SaveRoster(snapshot); err != nil {
				r.logger.Error("roster_save_failed", "people", len(snapshot), "error", err.Error())
			}
		}()
	}
	return person, nil
}

// newPersonID returns a short upper-case id in the style operators read off
// badges.
func newPersonID() string {
	id := uuid.New()
	return fmt.Sprintf("%X", id[:5])
}

// has must be called with r.mu held.
func (r *Roster) has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Wait blocks until background saves have finished.
func (r *Roster) Wait() {
	r.wg.Wait()
}

// Get returns the person with id.
func (r *Roster) Get(id string) (schema.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return schema.Person{}, ErrPersonNotFound
	}
	return r.people[i], nil
}

// Contains reports whether id is enrolled.
func (r *Roster) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Snapshot returns a copy of the roster in enrollment order.
func (r *Roster) Snapshot() []schema.Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]schema.Person(nil), r.people...)
}

// Len reports the number of enrolled people.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.people)
}
