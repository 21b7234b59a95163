package emissions

import "time"

// Status tracks where an event is in its response lifecycle.
type Status string

const (
	// StatusNew means detected, no response started yet
	StatusNew Status = "NEW"

	// StatusInvestigating means a field investigation is under way
	StatusInvestigating Status = "INVESTIGATING"

	// StatusReported means the regulatory report has been submitted
	StatusReported Status = "REPORTED"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusNew:
		return 1
	case StatusInvestigating:
		return 2
	case StatusReported:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	return s.Rank() > 0
}

// DetectionType is the instrument class that produced a detection.
type DetectionType string

const (
	DetectionSatellite  DetectionType = "satellite"
	DetectionOGI        DetectionType = "OGI" // optical gas imaging
	DetectionContinuous DetectionType = "continuous"
)

// Asset is a monitored site referenced by events.
type Asset struct {
	SiteID   string  `json:"site_id"`
	SiteName string  `json:"site_name"`
	Operator string  `json:"operator"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// Event is one detected emissions occurrence tied to a site.
//
// A zero DetectedAt means the detection time was missing or unparsable.
type Event struct {
	ID                     string        `json:"id"`
	SiteID                 string        `json:"site_id"`
	DetectedAt             time.Time     `json:"detected_at_utc"`
	DetectionType          DetectionType `json:"detection_type"`
	EstCH4KgPerHour        float64       `json:"est_ch4_kgph"`
	Confidence             float64       `json:"confidence"`
	Lat                    float64       `json:"lat"`
	Lon                    float64       `json:"lon"`
	Status                 Status        `json:"status"`
	InvestigationStartedAt *time.Time    `json:"investigation_started_utc"`
	ReportSubmittedAt      *time.Time    `json:"report_submitted_utc"`
	Notes                  Notes         `json:"notes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	cp := *e
	cp.InvestigationStartedAt = cloneTime(e.InvestigationStartedAt)
	cp.ReportSubmittedAt = cloneTime(e.ReportSubmittedAt)
	cp.Notes = e.Notes.Clone()
	return &cp
}

// StartInvestigation moves the event to INVESTIGATING, records ts as the
// investigation start and appends one log entry. It returns false and leaves
// the event untouched when the event is already INVESTIGATING or later.
func (e *Event) StartInvestigation(ts time.Time) bool {
	if e.Status.Rank() >= StatusInvestigating.Rank() {
		return false
	}
	ts = Truncate(ts)
	e.Status = StatusInvestigating
	e.InvestigationStartedAt = &ts
	e.Notes.AppendLog("Investigation started", ts)
	return true
}

// SubmitReport moves the event to REPORTED, records ts as the submission time
// and appends one log entry. It returns false when the event is already
// REPORTED. Submitting straight from NEW is allowed.
func (e *Event) SubmitReport(ts time.Time) bool {
	if e.Status.Rank() >= StatusReported.Rank() {
		return false
	}
	ts = Truncate(ts)
	e.Status = StatusReported
	e.ReportSubmittedAt = &ts
	e.Notes.AppendLog("Report submitted", ts)
	return true
}

// CompleteRunbookItem records the completion of itemID. A repeat completion of
// the same item returns false and changes nothing.
func (e *Event) CompleteRunbookItem(itemID string, ts time.Time) bool {
	if e.Notes.HasCompleted(itemID) {
		return false
	}
	ts = Truncate(ts)
	e.Notes.RunbookCompleted = append(e.Notes.RunbookCompleted, RunbookCompletion{
		ItemID:    itemID,
		Timestamp: FormatTimestamp(ts),
	})
	e.Notes.AppendLog("Runbook item completed: "+itemID, ts)
	return true
}

// ImportResult is the outcome of a bulk event import.
type ImportResult struct {
	BatchID  string `json:"batch_id"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
