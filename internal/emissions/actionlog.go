package emissions

import (
	"sort"
	"time"
)

// ActionLogEntry is one line of the chronological action history.
type ActionLogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp_utc"`
}

// ActionLog merges the event's stored log with entries synthesized from its
// lifecycle timestamps, sorted ascending by time. Ties keep source order.
// Stored entries with an unparsable timestamp are placed at now.
//
// A transition recorded both in the log and in its lifecycle timestamp shows
// up twice; that is intentional.
func ActionLog(ev *Event, now time.Time) []ActionLogEntry {
	entries := make([]ActionLogEntry, 0, len(ev.Notes.Log)+2)
	for _, raw := range ev.Notes.Log {
		ts, ok := ParseTimestamp(raw.Timestamp)
		if !ok {
			ts = now.UTC()
		}
		entries = append(entries, ActionLogEntry{Message: raw.Message, Timestamp: ts})
	}
	if ev.InvestigationStartedAt != nil {
		entries = append(entries, ActionLogEntry{
			Message:   "Investigation started",
			Timestamp: ev.InvestigationStartedAt.UTC(),
		})
	}
	if ev.ReportSubmittedAt != nil {
		entries = append(entries, ActionLogEntry{
			Message:   "Report submitted",
			Timestamp: ev.ReportSubmittedAt.UTC(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}
