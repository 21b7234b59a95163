// Package slack sends lifecycle notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plume/internal/emissions"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts emissions lifecycle transitions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify implements emissions.Notifier.
func (n *Notifier) Notify(ctx context.Context, note *emissions.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(note))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent",
		"event_id", note.View.ID,
		"transition", string(note.Transition),
	)
	return nil
}

func buildMessage(note *emissions.Notification) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(note),
			{"type": "divider"},
			fieldsBlock(note.View),
			{"type": "divider"},
			summaryBlock(note.View),
			{"type": "divider"},
			contextBlock(note),
		},
	}
}

func headerBlock(note *emissions.Notification) map[string]any {
	text := fmt.Sprintf("%s %s: %s", bucketEmoji(note.View.TriageBucket), title(note.Transition), note.View.ID)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(v *emissions.EventView) map[string]any {
	site, operator := v.SiteID, "unknown"
	if v.Asset != nil {
		site, operator = v.Asset.SiteName, v.Asset.Operator
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Site:* %s", site),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Operator:* %s", operator),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", v.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Triage:* %.2f (%s)", v.TriageScore, v.TriageBucket),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Investigate by:* %s%s", deadline(v, v.SLAInvestigateDeadline), breachedMark(v.SLAInvestigateBreached)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Report by:* %s%s", deadline(v, v.SLAReportDeadline), breachedMark(v.SLAReportBreached)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(v *emissions.EventView) map[string]any {
	text := truncate(strings.Join(emissions.Summary(v), "\n"), maxSummaryLen)
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(note *emissions.Notification) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("plume • event %s • %s", note.View.ID, note.At.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func title(t emissions.Transition) string {
	switch t {
	case emissions.TransitionInvestigating:
		return "Investigation started"
	case emissions.TransitionReported:
		return "Report submitted"
	default:
		return string(t)
	}
}

func bucketEmoji(b emissions.Bucket) string {
	switch b {
	case emissions.BucketHigh:
		return "\U0001f534" // red circle
	case emissions.BucketMed:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func deadline(v *emissions.EventView, t time.Time) string {
	if !v.DetectionKnown() {
		return "unknown"
	}
	return emissions.FormatTimestamp(t)
}

func breachedMark(breached bool) string {
	if breached {
		return " (breached)"
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
