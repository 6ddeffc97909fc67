// Package evaluate turns a roster and an attendance ledger into per-person
// academic confidence results. Everything here is a pure function of its
// inputs; results are recomputed from the raw ledger on every call.
package evaluate

import (
	"math"
	"time"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// DefaultCycleLength is the number of expected sessions per cycle.
const DefaultCycleLength = 30

// PeriodsPerDay is the number of class slots a fully attended day covers.
const PeriodsPerDay = schema.MaxPeriod

const (
	confidenceWeight  = 0.6
	consistencyWeight = 0.4
)

// Config controls an evaluation run.
type Config struct {
	// CycleLength is the denominator for attendance rate and absences.
	CycleLength int
	// Location decides calendar days. Nil means time.Local.
	Location *time.Location
}

// DefaultConfig returns a 30-session cycle in local time.
func DefaultConfig() Config {
	return Config{CycleLength: DefaultCycleLength, Location: time.Local}
}

func (c Config) cycleLength() int {
	if c.CycleLength <= 0 {
		return DefaultCycleLength
	}
	return c.CycleLength
}

// Evaluate returns one result per roster entry, in roster order. Events whose
// person is not on the roster are ignored.
func Evaluate(roster []schema.Person, ledger []schema.AttendanceEvent, cfg Config) []schema.EvaluationResult {
	byPerson := make(map[string][]schema.AttendanceEvent, len(roster))
	for _, e := range ledger {
		byPerson[e.PersonID] = append(byPerson[e.PersonID], e)
	}

	results := make([]schema.EvaluationResult, 0, len(roster))
	for _, p := range roster {
		results = append(results, evaluatePerson(p, byPerson[p.ID], cfg))
	}
	return results
}

// EvaluatePerson scores a single person against the events given. Events for
// other people are skipped.
func EvaluatePerson(p schema.Person, ledger []schema.AttendanceEvent, cfg Config) schema.EvaluationResult {
	var events []schema.AttendanceEvent
	for _, e := range ledger {
		if e.PersonID == p.ID {
			events = append(events, e)
		}
	}
	return evaluatePerson(p, events, cfg)
}

func evaluatePerson(p schema.Person, events []schema.AttendanceEvent, cfg Config) schema.EvaluationResult {
	cycle := cfg.cycleLength()

	var sum float64
	var lastSeen *int64
	days := make(map[string]struct{})
	for _, e := range events {
		sum += e.Confidence
		days[e.Day(cfg.Location)] = struct{}{}
		if lastSeen == nil || e.OccurredAt > *lastSeen {
			ts := e.OccurredAt
			lastSeen = &ts
		}
	}

	present := len(events)
	avgConfidence := 0.0
	if present > 0 {
		avgConfidence = sum / float64(present)
	}

	aci := ConfidenceIndex(avgConfidence, Consistency(present, len(days)))
	rate := float64(present) / float64(cycle)
	gaf := AdjustmentFactor(aci, rate, p.BaselineScore)
	raw := LetterGrade(p.BaselineScore)

	return schema.EvaluationResult{
		PersonID:                p.ID,
		DisplayName:             p.DisplayName,
		RawGrade:                raw,
		AcademicConfidenceIndex: aci,
		GradeAdjustmentFactor:   gaf,
		FinalGrade:              ShiftGrade(raw, gaf),
		ConfidenceLabel:         Label(aci),
		NeedsReview:             NeedsReview(aci, p.BaselineScore),
		PresentCount:            present,
		AbsentCount:             max(0, cycle-present),
		LastSeenAt:              lastSeen,
	}
}

// Consistency measures how completely present days cover every period,
// capped at 1.
func Consistency(events, distinctDays int) float64 {
	if distinctDays <= 0 {
		return 0
	}
	return math.Min(1, float64(events)/float64(distinctDays*PeriodsPerDay))
}

// ConfidenceIndex blends recognition confidence and consistency.
func ConfidenceIndex(avgConfidence, consistency float64) float64 {
	return confidenceWeight*avgConfidence + consistencyWeight*consistency
}

// AdjustmentFactor returns the grade shift. The -1 rule is applied after the
// +1 rule and wins when both hold.
func AdjustmentFactor(aci, attendanceRate float64, baseline int) int {
	gaf := 0
	if aci > 0.8 && attendanceRate >= 0.75 {
		gaf = 1
	}
	if aci < 0.5 || (baseline > 85 && attendanceRate < 0.4) {
		gaf = -1
	}
	return gaf
}

// NeedsReview flags a person for manual review. It is deliberately separate
// from AdjustmentFactor: here the baseline test is >= 85, there it is > 85.
func NeedsReview(aci float64, baseline int) bool {
	return aci < 0.5 || (baseline >= 85 && aci < 0.6)
}

// Label buckets an index into High, Medium or Low.
func Label(aci float64) schema.ConfidenceLabel {
	switch {
	case aci > 0.8:
		return schema.ConfidenceHigh
	case aci > 0.6:
		return schema.ConfidenceMedium
	default:
		return schema.ConfidenceLow
	}
}
