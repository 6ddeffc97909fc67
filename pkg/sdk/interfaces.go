package sdk

import (
	"errors"
	"strings"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

var (
	// ErrBusy is returned when the kiosk is not idle.
	ErrBusy = errors.New("scanner is busy")
	// ErrEmptyRoster is returned when a scan is requested with nobody enrolled.
	ErrEmptyRoster = errors.New("directory is currently empty")
	// ErrDeviceUnavailable is returned while the capture device is lost.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// remoteError turns an ERR line back into a sentinel where one matches.
func remoteError(msg string) error {
	for _, sentinel := range []error{ErrBusy, ErrEmptyRoster, ErrDeviceUnavailable} {
		if strings.HasPrefix(msg, sentinel.Error()) {
			if msg == sentinel.Error() {
				return sentinel
			}
			return &wrapped{msg: msg, err: sentinel}
		}
	}
	return errors.New(msg)
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.err }

// ScanResult is the outcome of one remote scan.
type ScanResult struct {
	State      string                  `json:"state"`
	Period     int                     `json:"period"`
	PersonID   string                  `json:"personId,omitempty"`
	Name       string                  `json:"name,omitempty"`
	Confidence float64                 `json:"confidence"`
	Logged     bool                    `json:"logged"`
	Event      *schema.AttendanceEvent `json:"event,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// KioskState is the scanner's state, selected period and last result.
type KioskState struct {
	State  string      `json:"state"`
	Period int         `json:"period"`
	Last   *ScanResult `json:"last,omitempty"`
}

// --- Functional Interfaces ---

// Scanner drives the kiosk.
type Scanner interface {
	State() (KioskState, error)
	SelectPeriod(period int) (KioskState, error)
	Scan(period int) (ScanResult, error)
}

// RecordReader lists attendance events.
type RecordReader interface {
	Events(personID string) ([]schema.AttendanceEvent, error)
}

// Evaluator reads evaluation results.
type Evaluator interface {
	Evaluate() ([]schema.EvaluationResult, error)
	Summary() (schema.Summary, error)
}

// Presence is everything a remote client can do.
type Presence interface {
	Scanner
	RecordReader
	Evaluator
	Ping() error
	Close() error
}
