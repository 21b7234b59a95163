package emissions

import (
	"context"
	"time"
)

// Transition names a lifecycle change that collaborators are told about.
type Transition string

const (
	TransitionInvestigating Transition = "investigation_started"
	TransitionReported      Transition = "report_submitted"
)

// Notification describes an applied lifecycle transition.
type Notification struct {
	Transition Transition
	View       *EventView
	At         time.Time
}

// Notifier delivers lifecycle notifications to an external channel.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Archiver stores a finished report document and returns its location.
type Archiver interface {
	Archive(ctx context.Context, r *Report) (string, error)
}

// Usage is the token accounting of one assistant call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Brief is an assistant-written response briefing for one event.
type Brief struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Assistant writes response briefings.
type Assistant interface {
	Brief(ctx context.Context, v *EventView, focus string) (*Brief, error)
}
