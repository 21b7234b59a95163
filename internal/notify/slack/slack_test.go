package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plume/internal/emissions"
)

func testNotification(t emissions.Transition, bucket emissions.Bucket) *emissions.Notification {
	return &emissions.Notification{
		Transition: t,
		At:         time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		View: &emissions.EventView{
			Event: emissions.Event{
				ID:     "E-100",
				SiteID: "S-7",
				Status: emissions.StatusInvestigating,
			},
			Asset:                  &emissions.Asset{SiteID: "S-7", SiteName: "Pad 7", Operator: "Acme"},
			TriageScore:            0.82,
			TriageBucket:           bucket,
			SLAInvestigateBreached: true,
		},
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), testNotification(emissions.TransitionInvestigating, emissions.BucketHigh)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, divider, summary, divider, context
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Investigation started: E-100") {
		t.Errorf("header text = %q", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for HIGH bucket")
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	var texts []string
	for _, f := range fields {
		texts = append(texts, f.(map[string]any)["text"].(string))
	}
	joined := strings.Join(texts, "|")
	for _, want := range []string{"*Site:* Pad 7", "*Operator:* Acme", "*Triage:* 0.82 (HIGH)", "(breached)"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fields %q missing %q", joined, want)
		}
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q", ctxText)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Notify(context.Background(), testNotification(emissions.TransitionReported, emissions.BucketLow)); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Notify(context.Background(), testNotification(emissions.TransitionReported, emissions.BucketMed))
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestFieldsBlock_UnknownDetection(t *testing.T) {
	t.Parallel()

	v := &emissions.EventView{
		Event:                  emissions.Event{ID: "E-1", SiteID: "S-1"},
		SLAInvestigateDeadline: time.Date(1, 1, 2, 0, 0, 0, 0, time.UTC),
		SLAInvestigateBreached: true,
	}
	fields := fieldsBlock(v)["fields"].([]map[string]any)
	if got := fields[4]["text"]; got != "*Investigate by:* unknown (breached)" {
		t.Errorf("investigate field = %q", got)
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   emissions.Transition
		want string
	}{
		{emissions.TransitionInvestigating, "Investigation started"},
		{emissions.TransitionReported, "Report submitted"},
		{emissions.Transition("reopened"), "reopened"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			t.Parallel()
			if got := title(tt.in); got != tt.want {
				t.Errorf("title(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBucketEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bucket emissions.Bucket
		want   string
	}{
		{emissions.BucketHigh, "\U0001f534"},
		{emissions.BucketMed, "\U0001f7e1"},
		{emissions.BucketLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}
	for _, tt := range tests {
		t.Run(string(tt.bucket), func(t *testing.T) {
			t.Parallel()
			if got := bucketEmoji(tt.bucket); got != tt.want {
				t.Errorf("bucketEmoji(%q) = %q, want %q", tt.bucket, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 4000)
	got := truncate(long, maxSummaryLen)
	if len(got) != maxSummaryLen || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate len = %d", len(got))
	}
	if truncate("short", maxSummaryLen) != "short" {
		t.Error("short strings must be unchanged")
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("E-1", "Pad 7", "Acme", "investigation_started")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold*", "_italic_", "report_submitted")
	f.Add("id\x00\x01", "site\nline", "op\ttab", "x\x00")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("s", 5000), "op", "t")

	f.Fuzz(func(t *testing.T, id, site, operator, transition string) {
		note := &emissions.Notification{
			Transition: emissions.Transition(transition),
			At:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			View: &emissions.EventView{
				Event: emissions.Event{ID: id, SiteID: site},
				Asset: &emissions.Asset{SiteName: site, Operator: operator},
			},
		}

		data, err := json.Marshal(buildMessage(note))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not decode: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 7 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}
