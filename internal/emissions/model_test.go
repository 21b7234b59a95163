package emissions

import (
	"testing"
	"time"
)

func TestStartInvestigation_AppendOnce(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "E1", Status: StatusNew}
	ts := time.Date(2025, 6, 1, 9, 0, 0, 750_000_000, time.FixedZone("CEST", 2*3600))

	if !ev.StartInvestigation(ts) {
		t.Fatal("first StartInvestigation should apply")
	}
	if ev.Status != StatusInvestigating {
		t.Errorf("status = %q, want INVESTIGATING", ev.Status)
	}
	want := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	if ev.InvestigationStartedAt == nil || !ev.InvestigationStartedAt.Equal(want) {
		t.Errorf("investigation started = %v, want %v", ev.InvestigationStartedAt, want)
	}
	if ev.InvestigationStartedAt.Location() != time.UTC {
		t.Errorf("timestamp not normalized to UTC: %v", ev.InvestigationStartedAt.Location())
	}
	if len(ev.Notes.Log) != 1 || ev.Notes.Log[0].Message != "Investigation started" {
		t.Fatalf("log = %+v, want one Investigation started entry", ev.Notes.Log)
	}
	if ev.Notes.Log[0].Timestamp != "2025-06-01T07:00:00Z" {
		t.Errorf("log timestamp = %q", ev.Notes.Log[0].Timestamp)
	}

	if ev.StartInvestigation(ts.Add(time.Hour)) {
		t.Error("repeat StartInvestigation should not apply")
	}
	if len(ev.Notes.Log) != 1 {
		t.Errorf("repeat call appended log entries: %+v", ev.Notes.Log)
	}
	if !ev.InvestigationStartedAt.Equal(want) {
		t.Errorf("repeat call moved timestamp to %v", ev.InvestigationStartedAt)
	}
}

func TestSubmitReport_FromNewAndNoRegress(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "E1", Status: StatusNew}
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	if !ev.SubmitReport(ts) {
		t.Fatal("SubmitReport from NEW should apply")
	}
	if ev.Status != StatusReported {
		t.Errorf("status = %q, want REPORTED", ev.Status)
	}
	if ev.StartInvestigation(ts.Add(time.Hour)) {
		t.Error("StartInvestigation after REPORTED should not apply")
	}
	if ev.Status != StatusReported {
		t.Errorf("status regressed to %q", ev.Status)
	}
	if ev.SubmitReport(ts.Add(time.Hour)) {
		t.Error("repeat SubmitReport should not apply")
	}
	if len(ev.Notes.Log) != 1 {
		t.Errorf("log = %+v, want exactly one entry", ev.Notes.Log)
	}
}

func TestCompleteRunbookItem_Idempotent(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "E1", Status: StatusInvestigating}
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	if !ev.CompleteRunbookItem("quantify", ts) {
		t.Fatal("first completion should apply")
	}
	before := ev.Notes.Clone()

	if ev.CompleteRunbookItem("quantify", ts.Add(time.Minute)) {
		t.Error("second completion should report false")
	}
	if len(ev.Notes.RunbookCompleted) != len(before.RunbookCompleted) || len(ev.Notes.Log) != len(before.Log) {
		t.Errorf("repeat completion changed notes: %+v", ev.Notes)
	}
	if got := ev.Notes.Log[0].Message; got != "Runbook item completed: quantify" {
		t.Errorf("log message = %q", got)
	}
}

func TestEventClone_Independent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	ev := &Event{ID: "E1", Status: StatusNew}
	ev.StartInvestigation(ts)

	cp := ev.Clone()
	cp.Notes.Log[0].Message = "changed"
	*cp.InvestigationStartedAt = ts.Add(time.Hour)
	cp.CompleteRunbookItem("quantify", ts)

	if ev.Notes.Log[0].Message != "Investigation started" {
		t.Error("clone shares log backing array")
	}
	if !ev.InvestigationStartedAt.Equal(ts) {
		t.Error("clone shares timestamp pointer")
	}
	if len(ev.Notes.RunbookCompleted) != 0 {
		t.Error("clone shares completion slice")
	}
}

func TestStatusRank(t *testing.T) {
	t.Parallel()

	if !(StatusNew.Rank() < StatusInvestigating.Rank() && StatusInvestigating.Rank() < StatusReported.Rank()) {
		t.Error("status ranks are not ordered along the lifecycle")
	}
	if Status("CLOSED").Valid() {
		t.Error("unknown status reported valid")
	}
}
