package emissions

import "time"

// Report is the document rendered for a single event.
type Report struct {
	Title       string     `json:"title"`
	GeneratedAt time.Time  `json:"generated_at_utc"`
	Summary     []string   `json:"summary"`
	Event       *EventView `json:"event"`
}

// NewReport renders v as a report document.
func NewReport(v *EventView, now time.Time) *Report {
	return &Report{
		Title:       "Emissions event report " + v.ID,
		GeneratedAt: Truncate(now),
		Summary:     Summary(v),
		Event:       v,
	}
}
