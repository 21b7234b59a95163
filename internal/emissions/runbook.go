package emissions

import "time"

// RunbookStep is one entry of the process-wide response checklist.
type RunbookStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DefaultRunbook is the canonical response checklist, in display order.
var DefaultRunbook = []RunbookStep{
	{ID: "site-safety", Label: "Confirm site safety and isolate equipment"},
	{ID: "quantify", Label: "Capture follow-up quantification reading"},
	{ID: "notify-ops", Label: "Notify operator and environmental lead"},
	{ID: "mitigation-plan", Label: "Draft mitigation & monitoring plan"},
}

// RunbookItem is the per-event view of one checklist step.
type RunbookItem struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at_utc"`
}

// Runbook projects the event's completion records onto template. The output
// follows template order regardless of the order items were completed in.
// Completions for ids outside the template are not shown.
func Runbook(ev *Event, template []RunbookStep) []RunbookItem {
	completed := make(map[string]string, len(ev.Notes.RunbookCompleted))
	for _, c := range ev.Notes.RunbookCompleted {
		completed[c.ItemID] = c.Timestamp
	}

	items := make([]RunbookItem, 0, len(template))
	for _, step := range template {
		item := RunbookItem{ID: step.ID, Label: step.Label}
		if ts, ok := completed[step.ID]; ok {
			item.Completed = true
			item.CompletedAt = ParseTimestampPtr(ts)
		}
		items = append(items, item)
	}
	return items
}
