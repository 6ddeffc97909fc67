// Package schema defines the data records shared by the attendance engine,
// its stores and its clients.
package schema

import "time"

// Status is the attendance status recorded on an event.
type Status string

const (
	StatusPresent Status = "present"
	// StatusLate is reserved; nothing produces it yet.
	StatusLate Status = "late"
)

// MinPeriod and MaxPeriod bound the daily class slots.
const (
	MinPeriod = 1
	MaxPeriod = 6
)

// Person is a roster entry created at enrollment.
type Person struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	BaselineScore  int    `json:"baselineScore"`
	ReferenceImage []byte `json:"referenceImage"`
	EnrolledAt     int64  `json:"enrolledAt"`
}

// AttendanceEvent is an immutable ledger entry. PersonID is a weak reference:
// the person may since have left the roster.
type AttendanceEvent struct {
	ID          string  `json:"id"`
	PersonID    string  `json:"personId"`
	DisplayName string  `json:"displayName"`
	OccurredAt  int64   `json:"occurredAt"`
	Period      int     `json:"period"`
	Confidence  float64 `json:"confidence"`
	Status      Status  `json:"status"`
}

// Time returns OccurredAt as a time.Time.
func (e AttendanceEvent) Time() time.Time {
	return time.UnixMilli(e.OccurredAt)
}

// ConfidenceLabel buckets the academic confidence index.
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceLow    ConfidenceLabel = "Low"
)

// EvaluationResult is derived per person on every evaluation request and is
// never stored.
type EvaluationResult struct {
	PersonID                string          `json:"personId"`
	DisplayName             string          `json:"displayName"`
	RawGrade                string          `json:"rawGrade"`
	AcademicConfidenceIndex float64         `json:"academicConfidenceIndex"`
	GradeAdjustmentFactor   int             `json:"gradeAdjustmentFactor"`
	FinalGrade              string          `json:"finalGrade"`
	ConfidenceLabel         ConfidenceLabel `json:"confidenceLabel"`
	NeedsReview             bool            `json:"needsReview"`
	PresentCount            int             `json:"presentCount"`
	AbsentCount             int             `json:"absentCount"`
	LastSeenAt              *int64          `json:"lastSeenAt"`
}

// Summary is the roll-up shown on the operator dashboard.
type Summary struct {
	Enrolled          int `json:"enrolled"`
	TotalEvents       int `json:"totalEvents"`
	AverageConfidence int `json:"averageConfidence"`
	HighRisk          int `json:"highRisk"`
}

// Day returns the calendar date of the event in loc as YYYY-MM-DD.
// A nil loc means time.Local.
func (e AttendanceEvent) Day(loc *time.Location) string {
	return CalendarDay(e.Time(), loc)
}

// CalendarDay truncates t to a date string in loc.
func CalendarDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
