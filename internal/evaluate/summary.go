package evaluate

import (
	"math"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Summarize builds the dashboard roll-up. A person is high risk when their
// baseline is above 90 but they have fewer than two events on record.
func Summarize(roster []schema.Person, ledger []schema.AttendanceEvent) schema.Summary {
	counts := make(map[string]int, len(roster))
	var sum float64
	for _, e := range ledger {
		counts[e.PersonID]++
		sum += e.Confidence
	}

	s := schema.Summary{
		Enrolled:    len(roster),
		TotalEvents: len(ledger),
	}
	if len(ledger) > 0 {
		s.AverageConfidence = int(math.Round(sum / float64(len(ledger)) * 100))
	}
	for _, p := range roster {
		if p.BaselineScore > 90 && counts[p.ID] < 2 {
			s.HighRisk++
		}
	}
	return s
}
