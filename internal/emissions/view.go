package emissions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventView is the merged, caller-facing representation of an event: stored
// state plus everything derived from it at a point in time.
type EventView struct {
	Event

	// Asset is nil when the event's site is not in the asset table.
	Asset *Asset `json:"asset"`

	TriageScore     float64   `json:"triage_score"`
	TriageBucket    Bucket    `json:"triage_bucket"`
	TriageBreakdown Breakdown `json:"triage_breakdown"`

	SLAInvestigateDeadline       time.Time `json:"sla_investigate_deadline_utc"`
	SLAReportDeadline            time.Time `json:"sla_report_deadline_utc"`
	SLAInvestigateRemainingHours float64   `json:"sla_investigate_remaining_h"`
	SLAReportRemainingHours      float64   `json:"sla_report_remaining_h"`
	SLAInvestigateBreached       bool      `json:"sla_investigate_breached"`
	SLAReportBreached            bool      `json:"sla_report_breached"`

	ActionLog []ActionLogEntry `json:"action_log"`
	Runbook   []RunbookItem    `json:"runbook"`
}

// Breached reports whether either SLA deadline has passed.
func (v *EventView) Breached() bool {
	return v.SLAInvestigateBreached || v.SLAReportBreached
}

// DetectionKnown reports whether the event has a detection time. Without one
// the SLA deadlines are undefined and both count as breached.
func (v *EventView) DetectionKnown() bool {
	return !v.DetectedAt.IsZero()
}

// MarshalJSON renders an unknown detection time, and the SLA deadlines and
// remaining hours derived from it, as null.
func (v EventView) MarshalJSON() ([]byte, error) {
	type plain EventView
	out := struct {
		plain
		DetectedAt                   *time.Time `json:"detected_at_utc"`
		SLAInvestigateDeadline       *time.Time `json:"sla_investigate_deadline_utc"`
		SLAReportDeadline            *time.Time `json:"sla_report_deadline_utc"`
		SLAInvestigateRemainingHours *float64   `json:"sla_investigate_remaining_h"`
		SLAReportRemainingHours      *float64   `json:"sla_report_remaining_h"`
	}{plain: plain(v)}

	if v.DetectionKnown() {
		out.DetectedAt = &v.DetectedAt
		out.SLAInvestigateDeadline = &v.SLAInvestigateDeadline
		out.SLAReportDeadline = &v.SLAReportDeadline
		out.SLAInvestigateRemainingHours = &v.SLAInvestigateRemainingHours
		out.SLAReportRemainingHours = &v.SLAReportRemainingHours
	}
	return json.Marshal(out)
}

// BuildView derives the merged view of ev as of now. ev is copied; the
// caller's value is not retained.
func BuildView(ev *Event, asset *Asset, template []RunbookStep, now time.Time) *EventView {
	t := Evaluate(ev, now)
	v := &EventView{
		Event:                        *ev.Clone(),
		TriageScore:                  t.Score,
		TriageBucket:                 t.Bucket,
		TriageBreakdown:              t.Breakdown,
		SLAInvestigateDeadline:       t.InvestigateDeadline,
		SLAReportDeadline:            t.ReportDeadline,
		SLAInvestigateRemainingHours: t.InvestigateRemainingHours,
		SLAReportRemainingHours:      t.ReportRemainingHours,
		SLAInvestigateBreached:       t.InvestigateBreached(),
		SLAReportBreached:            t.ReportBreached(),
		ActionLog:                    ActionLog(ev, now),
		Runbook:                      Runbook(ev, template),
	}
	if asset != nil {
		a := *asset
		v.Asset = &a
	}
	return v
}

// Summary renders the view as short human-readable lines, used for report
// documents and as assistant context.
func Summary(v *EventView) []string {
	site, operator := v.SiteID, "unknown operator"
	if v.Asset != nil {
		site, operator = v.Asset.SiteName, v.Asset.Operator
	}

	lines := []string{
		fmt.Sprintf("Event %s at %s (%s).", v.ID, site, operator),
		fmt.Sprintf("Detection: %s, estimated %.0f kg/h CH4, confidence %.2f.", v.DetectionType, v.EstCH4KgPerHour, v.Confidence),
		fmt.Sprintf("Status: %s. Triage score %.2f (%s).", v.Status, v.TriageScore, v.TriageBucket),
	}
	if v.DetectionKnown() {
		lines = append(lines,
			fmt.Sprintf("Detected at %s.", FormatTimestamp(v.DetectedAt)),
			fmt.Sprintf("Investigate by %s (%s).", FormatTimestamp(v.SLAInvestigateDeadline), slaState(v.SLAInvestigateBreached)),
			fmt.Sprintf("Report by %s (%s).", FormatTimestamp(v.SLAReportDeadline), slaState(v.SLAReportBreached)),
		)
	} else {
		lines = append(lines, "Detection time unknown; SLAs treated as breached.")
	}

	var done, pending []string
	for _, item := range v.Runbook {
		if item.Completed {
			done = append(done, item.Label)
		} else {
			pending = append(pending, item.Label)
		}
	}
	if len(done) > 0 {
		lines = append(lines, "Runbook complete: "+strings.Join(done, ", "))
	}
	if len(pending) > 0 {
		lines = append(lines, "Runbook pending: "+strings.Join(pending, ", "))
	}

	if n := len(v.ActionLog); n > 0 {
		recent := v.ActionLog[max(0, n-3):]
		parts := make([]string, 0, len(recent))
		for _, e := range recent {
			parts = append(parts, FormatTimestamp(e.Timestamp)+" - "+e.Message)
		}
		lines = append(lines, "Recent actions: "+strings.Join(parts, ", "))
	}
	return lines
}

func slaState(breached bool) string {
	if breached {
		return "breached"
	}
	return "on track"
}
