// Package scan runs the capture-to-result cycle of the check-in kiosk: one
// probe image, one recognition call and at most one ledger append per cycle.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// MatchThreshold is the lowest confidence accepted as a match.
const MatchThreshold = 0.7

// DefaultDisplayWindow is how long Success and NotFound stay visible.
const DefaultDisplayWindow = 3 * time.Second

var (
	// ErrBusy is returned when a trigger arrives outside Idle. The trigger is
	// ignored.
	ErrBusy = errors.New("scanner is busy")
	// ErrEmptyRoster blocks a trigger when nobody is enrolled.
	ErrEmptyRoster = errors.New("directory is currently empty")
	// ErrCaptureDeviceUnavailable puts the workflow in Error until Reacquire.
	ErrCaptureDeviceUnavailable = errors.New("capture device unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scanner is closed")
	// ErrOracleUnavailable marks a transport failure talking to the oracle.
	ErrOracleUnavailable = errors.New("recognition service unavailable")
	// ErrOracleMalformedResponse marks a reply that could not be understood.
	ErrOracleMalformedResponse = errors.New("recognition service returned a malformed response")
)

// State is a step of the scan cycle.
type State int

const (
	Idle State = iota
	Processing
	Success
	NotFound
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Success:
		return "success"
	case NotFound:
		return "not-found"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Match is the recognition service's answer for one probe image.
type Match struct {
	PersonID   string  `json:"matchedPersonId"`
	Name       string  `json:"matchedName"`
	Confidence float64 `json:"confidence"`
}

// UnknownPerson is the id the oracle uses for "no match".
const UnknownPerson = "unknown"

// Accepted reports whether m identifies someone with enough confidence.
func (m Match) Accepted() bool {
	return m.PersonID != "" && m.PersonID != UnknownPerson && m.Confidence >= MatchThreshold
}

// Oracle identifies the person in a probe image against the roster.
type Oracle interface {
	Identify(ctx context.Context, probe []byte, roster []schema.Person) (Match, error)
}

// Camera is the capture device.
type Camera interface {
	Acquire() error
	Capture(ctx context.Context) ([]byte, error)
	Release() error
}

// Ingester records accepted matches.
type Ingester interface {
	Ingest(req ledger.IngestRequest) (schema.AttendanceEvent, error)
}

// RosterSource supplies the people the oracle may match.
type RosterSource interface {
	Snapshot() []schema.Person
}

// Observer receives one call per finished cycle.
type Observer interface {
	ObserveScan(outcome string, elapsed time.Duration)
}

// Outcome describes a finished cycle.
type Outcome struct {
	State      State                   `json:"state"`
	Period     int                     `json:"period"`
	PersonID   string                  `json:"personId,omitempty"`
	Name       string                  `json:"name,omitempty"`
	Confidence float64                 `json:"confidence"`
	Logged     bool                    `json:"logged"`
	Event      *schema.AttendanceEvent `json:"event,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// Status is a point-in-time view of the workflow.
type Status struct {
	State  State    `json:"state"`
	Period int      `json:"period"`
	Last   *Outcome `json:"last,omitempty"`
}

// Config wires a Workflow.
type Config struct {
	Camera   Camera
	Oracle   Oracle
	Ledger   Ingester
	Roster   RosterSource
	Observer Observer
	Logger   *slog.Logger
	// DisplayWindow defaults to DefaultDisplayWindow.
	DisplayWindow time.Duration
}

// Workflow is the scan state machine. Only one cycle runs at a time; Trigger
// outside Idle is ignored.
type Workflow struct {
	mu     sync.Mutex
	state  State
	period int
	cycle  uint64
	timer  *time.Timer
	closed bool
	last   *Outcome

	camera   Camera
	oracle   Oracle
	ledger   Ingester
	roster   RosterSource
	observer Observer
	logger   *slog.Logger
	window   time.Duration
}

// New returns a workflow in Idle with period 1 selected.
func New(cfg Config) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.DisplayWindow
	if window <= 0 {
		window = DefaultDisplayWindow
	}
	return &Workflow{
		state:    Idle,
		period:   schema.MinPeriod,
		camera:   cfg.Camera,
		oracle:   cfg.Oracle,
		ledger:   cfg.Ledger,
		roster:   cfg.Roster,
		observer: cfg.Observer,
		logger:   logger.With("component", "scan"),
		window:   window,
	}
}

// Start acquires the capture device. On failure the workflow enters Error.
func (w *Workflow) Start() error {
	return w.acquire()
}

// Reacquire retries device acquisition after an Error.
func (w *Workflow) Reacquire() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state != Error {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return w.acquire()
}

func (w *Workflow) acquire() error {
	err := w.camera.Acquire()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err != nil {
		w.state = Error
		w.logger.Error("device_acquire_failed", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrCaptureDeviceUnavailable, err)
	}
	if w.state == Error {
		w.state = Idle
	}
	w.logger.Info("device_acquired")
	return nil
}

// SelectPeriod sets the period used by the next cycle.
func (w *Workflow) SelectPeriod(period int) error {
	if period < schema.MinPeriod || period > schema.MaxPeriod {
		return fmt.Errorf("%w: got %d", ledger.ErrInvalidPeriod, period)
	}
	w.mu.Lock()
	w.period = period
	w.mu.Unlock()
	return nil
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status returns the state, selected period and last outcome.
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{State: w.state, Period: w.period}
	if w.last != nil {
		last := *w.last
		s.Last = &last
	}
	return s
}

// Trigger runs one capture cycle and blocks until the oracle has answered.
func (w *Workflow) Trigger(ctx context.Context) (Outcome, error) {
	return w.TriggerPeriod(ctx, 0)
}

// TriggerPeriod is Trigger with a period selection that only takes effect
// when the cycle is accepted. A period of 0 keeps the selected one.
func (w *Workflow) TriggerPeriod(ctx context.Context, period int) (Outcome, error) {
	if period != 0 && (period < schema.MinPeriod || period > schema.MaxPeriod) {
		return Outcome{}, fmt.Errorf("%w: got %d", ledger.ErrInvalidPeriod, period)
	}
	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return Outcome{}, ErrClosed
	case w.state == Error:
		w.mu.Unlock()
		return Outcome{State: Error}, ErrCaptureDeviceUnavailable
	case w.state != Idle:
		state := w.state
		w.mu.Unlock()
		return Outcome{State: state}, ErrBusy
	}
	people := w.roster.Snapshot()
	if len(people) == 0 {
		w.mu.Unlock()
		w.logger.Warn("scan_rejected_empty_roster")
		return Outcome{State: Idle}, ErrEmptyRoster
	}
	if period != 0 {
		w.period = period
	}
	w.state = Processing
	w.cycle++
	cycle := w.cycle
	period = w.period
	w.mu.Unlock()

	started := time.Now()
	outcome, err := w.run(ctx, period, people)
	w.finish(cycle, outcome)
	if w.observer != nil && !errors.Is(err, ErrClosed) {
		w.observer.ObserveScan(outcome.State.String(), time.Since(started))
	}
	return outcome, err
}

func (w *Workflow) run(ctx context.Context, period int, people []schema.Person) (Outcome, error) {
	probe, err := w.camera.Capture(ctx)
	if err != nil {
		w.logger.Error("capture_failed", "error", err.Error())
		return Outcome{State: Error, Period: period, Reason: err.Error()},
			fmt.Errorf("%w: %v", ErrCaptureDeviceUnavailable, err)
	}

	match, err := w.identify(ctx, probe, people)
	if err != nil {
		// Oracle failures never escape the cycle.
		w.logger.Warn("oracle_failed", "period", period, "error", err.Error())
		return Outcome{State: NotFound, Period: period, Reason: err.Error()}, nil
	}
	if !match.Accepted() {
		w.logger.Info("scan_no_match", "period", period, "confidence", match.Confidence)
		return Outcome{State: NotFound, Period: period, Confidence: match.Confidence}, nil
	}

	out := Outcome{
		State:      Success,
		Period:     period,
		PersonID:   match.PersonID,
		Name:       displayName(match, people),
		Confidence: match.Confidence,
	}

	// Holding mu keeps Close from slipping in between the check and the append.
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("scan_dropped_after_close", "person", match.PersonID, "period", period)
		return Outcome{}, ErrClosed
	}
	event, err := w.ledger.Ingest(ledger.IngestRequest{
		PersonID:    match.PersonID,
		DisplayName: out.Name,
		Confidence:  match.Confidence,
		Period:      period,
	})
	w.mu.Unlock()
	switch {
	case err == nil:
		out.Logged = true
		out.Event = &event
	case errors.Is(err, ledger.ErrDuplicateForPeriod):
		// Already logged today for this period: still shown as Success.
		out.Reason = err.Error()
	default:
		w.logger.Warn("ingest_rejected", "person", match.PersonID, "error", err.Error())
		return Outcome{State: NotFound, Period: period, Confidence: match.Confidence, Reason: err.Error()}, nil
	}
	w.logger.Info("scan_success", "person", out.PersonID, "period", period, "logged", out.Logged)
	return out, nil
}

// displayName prefers the roster's name for the matched id; the oracle may
// omit it.
func displayName(m Match, people []schema.Person) string {
	for _, p := range people {
		if p.ID == m.PersonID {
			return p.DisplayName
		}
	}
	return m.Name
}

// identify calls the oracle, turning panics into errors so one bad reply
// cannot take the kiosk down.
func (w *Workflow) identify(ctx context.Context, probe []byte, people []schema.Person) (m Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOracleUnavailable, r)
		}
	}()
	return w.oracle.Identify(ctx, probe, people)
}

// finish records the outcome and, for Success and NotFound, schedules the
// return to Idle.
func (w *Workflow) finish(cycle uint64, out Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.state = out.State
	w.last = &out
	if out.State != Success && out.State != NotFound {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, func() { w.resetAfterDisplay(cycle) })
}

func (w *Workflow) resetAfterDisplay(cycle uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.cycle != cycle {
		return
	}
	if w.state == Success || w.state == NotFound {
		w.state = Idle
	}
}

// Close cancels any pending reset and releases the device. The workflow
// cannot be used afterwards.
func (w *Workflow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.camera.Release()
}
