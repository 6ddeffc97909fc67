// Package ledger holds the append-only attendance log and its per-period
// deduplication rule.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateForPeriod is returned when the person already has an event
	// for the same period today. Nothing is stored.
	ErrDuplicateForPeriod = errors.New("already recorded for this period today")
	// ErrInvalidPeriod is returned for periods outside 1..6.
	ErrInvalidPeriod = errors.New("period must be between 1 and 6")
	// ErrInvalidConfidence is returned for confidences outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	// ErrMissingPerson is returned when no person id is given.
	ErrMissingPerson = errors.New("person id is required")
	// ErrUnknownPerson is returned when a directory is wired and does not
	// know the person.
	ErrUnknownPerson = errors.New("person is not on the roster")
)

// Persister writes the full ledger after a successful ingestion.
type Persister interface {
	SaveLedger(events []schema.AttendanceEvent) error
}

// Publisher forwards newly accepted events downstream.
type Publisher interface {
	Publish(ctx context.Context, event schema.AttendanceEvent) error
}

// Directory answers roster membership questions.
type Directory interface {
	Contains(personID string) bool
}

// IngestRequest is a recognition result ready to be recorded.
type IngestRequest struct {
	PersonID    string  `json:"personId" validate:"required"`
	DisplayName string  `json:"displayName"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
	Period      int     `json:"period" validate:"min=1,max=6"`
}

type dedupKey struct {
	personID string
	period   int
	day      string
}

// Ledger is safe for concurrent use. Ingest serialises the duplicate check
// and the append under one lock.
type Ledger struct {
	mu     sync.RWMutex
	events []schema.AttendanceEvent
	seen   map[dedupKey]struct{}

	persister Persister
	publisher Publisher
	directory Directory
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
	loc       *time.Location
	newID     func() string

	wg      sync.WaitGroup
	saveMu  sync.Mutex
	seq     uint64
	savedAt uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister saves the ledger in the background after each append.
func WithPersister(p Persister) Option { return func(l *Ledger) { l.persister = p } }

// WithPublisher forwards each accepted event.
func WithPublisher(p Publisher) Option { return func(l *Ledger) { l.publisher = p } }

// WithDirectory turns on roster membership checks.
func WithDirectory(d Directory) Option { return func(l *Ledger) { l.directory = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLocation sets the locale that decides calendar days.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New builds a ledger from previously persisted events, kept in the order
// given.
func New(initial []schema.AttendanceEvent, opts ...Option) *Ledger {
	l := &Ledger{
		events:   append([]schema.AttendanceEvent(nil), initial...),
		seen:     make(map[dedupKey]struct{}, len(initial)),
		logger:   slog.Default(),
		validate: validator.New(),
		now:      time.Now,
		loc:      time.Local,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, e := range l.events {
		l.seen[l.keyFor(e.PersonID, e.Period, e.Time())] = struct{}{}
	}
	return l
}

func (l *Ledger) keyFor(personID string, period int, at time.Time) dedupKey {
	return dedupKey{personID: personID, period: period, day: schema.CalendarDay(at, l.loc)}
}

// Ingest records a recognition result as a present event, unless the person
// already has one for this period today.
func (l *Ledger) Ingest(req IngestRequest) (schema.AttendanceEvent, error) {
	if err := l.check(req); err != nil {
		return schema.AttendanceEvent{}, err
	}
	if l.directory != nil && !l.directory.Contains(req.PersonID) {
		return schema.AttendanceEvent{}, fmt.Errorf("%w: %s", ErrUnknownPerson, req.PersonID)
	}

	l.mu.Lock()
	now := l.now()
	key := l.keyFor(req.PersonID, req.Period, now)
	if _, dup := l.seen[key]; dup {
		l.mu.Unlock()
		l.logger.Info("ingest_duplicate", "person", req.PersonID, "period", req.Period, "day", key.day)
		return schema.AttendanceEvent{}, ErrDuplicateForPeriod
	}

	event := schema.AttendanceEvent{
		ID:          l.newID(),
		PersonID:    req.PersonID,
		DisplayName: req.DisplayName,
		OccurredAt:  now.UnixMilli(),
		Period:      req.Period,
		Confidence:  req.Confidence,
		Status:      schema.StatusPresent,
	}
	l.events = append(l.events, event)
	l.seen[key] = struct{}{}
	l.seq++
	seq := l.seq
	snapshot := append([]schema.AttendanceEvent(nil), l.events...)
	l.mu.Unlock()

	l.logger.Info("ingest_accepted", "event", event.ID, "person", event.PersonID, "period", event.Period, "confidence", event.Confidence)

	if l.persister != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.save(seq, snapshot)
		}()
	}
	if l.publisher != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.publisher.Publish(ctx, event); err != nil {
				l.logger.Warn("publish_failed", "event", event.ID, "error", err.Error())
			}
		}()
	}
	return event, nil
}

// save writes snapshot unless a newer one already landed.
func (l *Ledger) save(seq uint64, snapshot []schema.AttendanceEvent) {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if seq <= l.savedAt {
		return
	}
	if err := l.persister.SaveLedger(snapshot); err != nil {
		l.logger.Error("ledger_save_failed", "events", len(snapshot), "error", err.Error())
		return
	}
	l.savedAt = seq
}

func (l *Ledger) check(req IngestRequest) error {
	err := l.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "Period":
		return fmt.Errorf("%w: got %d", ErrInvalidPeriod, req.Period)
	case "Confidence":
		return fmt.Errorf("%w: got %v", ErrInvalidConfidence, req.Confidence)
	case "PersonID":
		return ErrMissingPerson
	}
	return err
}

// Wait blocks until background saves and publishes have finished.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// Snapshot returns a copy of every event in insertion order.
func (l *Ledger) Snapshot() []schema.AttendanceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]schema.AttendanceEvent(nil), l.events...)
}

// Recent returns events newest first. A non-empty personID filters to that
// person.
func (l *Ledger) Recent(personID string) []schema.AttendanceEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]schema.AttendanceEvent, 0, len(l.events))
	for i := len(l.events) - 1; i >= 0; i-- {
		if personID != "" && l.events[i].PersonID != personID {
			continue
		}
		out = append(out, l.events[i])
	}
	return out
}

// Len reports the number of stored events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
