// Package service ties the roster, the ledger, the scan workflow and the
// evaluation engine together behind the operations the HTTP API and the
// TCP router expose.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/evaluate"
	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/internal/roster"
	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Metrics is the subset of the metrics package the service reports to.
type Metrics interface {
	ObserveScan(outcome string, elapsed time.Duration)
	ObserveIngest(err error)
}

type Config struct {
	Roster        *roster.Roster
	Ledger        *ledger.Ledger
	Camera        scan.Camera
	Oracle        scan.Oracle
	Metrics       Metrics
	Logger        *slog.Logger
	DisplayWindow time.Duration
	Evaluation    evaluate.Config
}

type Service struct {
	roster  *roster.Roster
	ledger  *ledger.Ledger
	scanner *scan.Workflow
	metrics Metrics
	eval    evaluate.Config
	logger  *slog.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		roster:  cfg.Roster,
		ledger:  cfg.Ledger,
		metrics: cfg.Metrics,
		eval:    cfg.Evaluation,
		logger:  logger,
	}
	wc := scan.Config{
		Camera:        cfg.Camera,
		Oracle:        cfg.Oracle,
		Ledger:        s, // scans ingest through Service so they are counted
		Roster:        cfg.Roster,
		Logger:        logger,
		DisplayWindow: cfg.DisplayWindow,
	}
	if cfg.Metrics != nil {
		wc.Observer = cfg.Metrics
	}
	s.scanner = scan.New(wc)
	return s
}

// Start acquires the capture device. A failure leaves the scanner in Error
// but the rest of the service usable.
func (s *Service) Start() error {
	return s.scanner.Start()
}

// Close releases the device and waits for pending saves.
func (s *Service) Close() error {
	err := s.scanner.Close()
	s.ledger.Wait()
	s.roster.Wait()
	return err
}

func (s *Service) People() []schema.Person {
	return s.roster.Snapshot()
}

func (s *Service) Enroll(req roster.EnrollRequest) (schema.Person, error) {
	return s.roster.Enroll(req)
}

// Ingest records a recognition result. It is also the path scans take.
func (s *Service) Ingest(req ledger.IngestRequest) (schema.AttendanceEvent, error) {
	event, err := s.ledger.Ingest(req)
	if s.metrics != nil {
		s.metrics.ObserveIngest(err)
	}
	return event, err
}

// Events lists the ledger newest first, optionally for one person.
func (s *Service) Events(personID string) []schema.AttendanceEvent {
	return s.ledger.Recent(personID)
}

func (s *Service) Evaluate() []schema.EvaluationResult {
	return evaluate.Evaluate(s.roster.Snapshot(), s.ledger.Snapshot(), s.eval)
}

func (s *Service) Summary() schema.Summary {
	return evaluate.Summarize(s.roster.Snapshot(), s.ledger.Snapshot())
}

// Scan runs one capture cycle. A period of 0 keeps the selected period.
func (s *Service) Scan(ctx context.Context, period int) (scan.Outcome, error) {
	return s.scanner.TriggerPeriod(ctx, period)
}

func (s *Service) Status() scan.Status {
	return s.scanner.Status()
}

func (s *Service) SelectPeriod(period int) error {
	return s.scanner.SelectPeriod(period)
}

func (s *Service) Reacquire() error {
	return s.scanner.Reacquire()
}
