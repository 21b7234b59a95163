package emissions

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestActionLog_MergesAndSorts(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	reported := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	ev := &Event{
		InvestigationStartedAt: &started,
		ReportSubmittedAt:      &reported,
		Notes: Notes{Log: []LogEntry{
			{Message: "late note", Timestamp: "2025-06-02T09:00:00Z"},
			{Message: "early note", Timestamp: "2025-06-01T08:00:00Z"},
			{Message: "undated", Timestamp: ""},
		}},
	}

	now := reported.Add(time.Hour)
	got := ActionLog(ev, now)
	want := []string{"early note", "Investigation started", "late note", "Report submitted", "undated"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, msg := range want {
		if got[i].Message != msg {
			t.Errorf("entry %d = %q, want %q", i, got[i].Message, msg)
		}
	}
	if !got[4].Timestamp.Equal(now) {
		t.Errorf("undated entry timestamp = %v, want now", got[4].Timestamp)
	}
}

func TestActionLog_KeepsDuplicateTransitions(t *testing.T) {
	t.Parallel()

	ev := &Event{Status: StatusNew}
	ev.StartInvestigation(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	got := ActionLog(ev, testNow)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (stored + synthesized)", len(got))
	}
	for _, e := range got {
		if e.Message != "Investigation started" {
			t.Errorf("unexpected entry %q", e.Message)
		}
	}
}

func TestRunbook_TemplateOrder(t *testing.T) {
	t.Parallel()

	ev := &Event{Notes: Notes{RunbookCompleted: []RunbookCompletion{
		{ItemID: "mitigation-plan", Timestamp: "2025-06-02T00:00:00Z"},
		{ItemID: "site-safety", Timestamp: "garbage"},
		{ItemID: "not-in-template", Timestamp: "2025-06-02T00:00:00Z"},
	}}}

	got := Runbook(ev, DefaultRunbook)
	if len(got) != len(DefaultRunbook) {
		t.Fatalf("len = %d, want %d", len(got), len(DefaultRunbook))
	}
	for i, step := range DefaultRunbook {
		if got[i].ID != step.ID || got[i].Label != step.Label {
			t.Errorf("item %d = %s/%q, want %s/%q", i, got[i].ID, got[i].Label, step.ID, step.Label)
		}
	}

	if !got[0].Completed || got[0].CompletedAt != nil {
		t.Errorf("site-safety = %+v, want completed with null timestamp", got[0])
	}
	if got[1].Completed || got[2].Completed {
		t.Error("quantify and notify-ops should be pending")
	}
	if !got[3].Completed || got[3].CompletedAt == nil {
		t.Errorf("mitigation-plan = %+v, want completed with timestamp", got[3])
	}
}

func TestBuildView_Merges(t *testing.T) {
	t.Parallel()

	ev := &Event{
		ID:              "E1",
		SiteID:          "S1",
		DetectedAt:      testNow.Add(-6 * 24 * time.Hour),
		DetectionType:   DetectionSatellite,
		EstCH4KgPerHour: 400,
		Confidence:      0.9,
		Status:          StatusNew,
	}
	asset := &Asset{SiteID: "S1", SiteName: "North Pad", Operator: "Acme"}

	v := BuildView(ev, asset, DefaultRunbook, testNow)
	if v.Asset == asset {
		t.Error("view shares the caller's asset")
	}
	if !v.SLAInvestigateBreached || v.SLAReportBreached {
		t.Errorf("breach flags = %v/%v, want true/false", v.SLAInvestigateBreached, v.SLAReportBreached)
	}
	if !v.Breached() {
		t.Error("Breached() = false")
	}
	if len(v.Runbook) != 4 || len(v.ActionLog) != 0 {
		t.Errorf("runbook/action log sizes = %d/%d", len(v.Runbook), len(v.ActionLog))
	}

	lines := Summary(v)
	if !strings.Contains(lines[0], "North Pad (Acme)") {
		t.Errorf("summary header = %q", lines[0])
	}
	if !strings.Contains(strings.Join(lines, "\n"), "Investigate by 2025-05-31T12:00:00Z (breached)") {
		t.Errorf("summary missing investigate line: %v", lines)
	}
}

func TestBuildView_MissingAsset(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "E1", SiteID: "GONE", DetectedAt: testNow, Status: StatusNew}
	v := BuildView(ev, nil, DefaultRunbook, testNow)
	if v.Asset != nil {
		t.Errorf("asset = %+v, want nil", v.Asset)
	}
	if !strings.Contains(Summary(v)[0], "GONE (unknown operator)") {
		t.Errorf("summary header = %q", Summary(v)[0])
	}
}

func TestEventView_MarshalUnknownDetection(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	detected := now.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		detected time.Time
		wantNull bool
		breached bool
	}{
		{"unknown", time.Time{}, true, true},
		{"known", detected, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := BuildView(&Event{ID: "E", SiteID: "S", DetectedAt: tt.detected, Status: StatusNew}, nil, DefaultRunbook, now)
			if v.SLAInvestigateBreached != tt.breached || v.SLAReportBreached != tt.breached {
				t.Errorf("breached = %v/%v, want %v", v.SLAInvestigateBreached, v.SLAReportBreached, tt.breached)
			}

			b, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			for _, key := range []string{
				"detected_at_utc",
				"sla_investigate_deadline_utc",
				"sla_report_deadline_utc",
				"sla_investigate_remaining_h",
				"sla_report_remaining_h",
			} {
				val, ok := got[key]
				if !ok {
					t.Errorf("%s missing", key)
					continue
				}
				if (val == nil) != tt.wantNull {
					t.Errorf("%s = %v, want null = %v", key, val, tt.wantNull)
				}
			}
			if got["id"] != "E" || got["sla_investigate_breached"] != tt.breached {
				t.Errorf("embedded fields lost: id=%v breached=%v", got["id"], got["sla_investigate_breached"])
			}
			if !tt.wantNull && got["detected_at_utc"] != "2025-06-01T10:00:00Z" {
				t.Errorf("detected_at_utc = %v", got["detected_at_utc"])
			}
		})
	}
}

func TestSummary_UnknownDetection(t *testing.T) {
	t.Parallel()

	v := BuildView(&Event{ID: "E", SiteID: "S"}, nil, DefaultRunbook, time.Now())
	joined := strings.Join(Summary(v), "\n")
	if strings.Contains(joined, "0001-") || !strings.Contains(joined, "Detection time unknown") {
		t.Errorf("summary = %q", joined)
	}
}
