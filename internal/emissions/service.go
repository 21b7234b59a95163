package emissions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/plume/internal/emissions")

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	Status          Status
	SLABreachedOnly bool
}

// Service is the business boundary for emissions operations. It owns the
// clock: every view and mutation timestamp comes from it.
type Service struct {
	store     Store
	logger    log.Logger
	metrics   *Metrics
	notifier  Notifier
	archiver  Archiver
	assistant Assistant
	runbook   []RunbookStep
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records service activity on m.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithNotifier sends lifecycle notifications through n.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithArchiver archives a report document whenever a report is submitted.
func WithArchiver(a Archiver) Option { return func(s *Service) { s.archiver = a } }

// WithAssistant enables assistant briefings.
func WithAssistant(a Assistant) Option { return func(s *Service) { s.assistant = a } }

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRunbook replaces DefaultRunbook.
func WithRunbook(steps []RunbookStep) Option { return func(s *Service) { s.runbook = steps } }

// NewService creates a new emissions service.
func NewService(store Store, logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:   store,
		logger:  logger,
		runbook: DefaultRunbook,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssistantConfigured reports whether Brief can succeed at all.
func (s *Service) AssistantConfigured() bool { return s.assistant != nil }

// Assets returns all known assets in table order.
func (s *Service) Assets(ctx context.Context) ([]Asset, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Assets")
	defer span.End()

	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return assets, nil
}

// Events returns views of every event matching f, in insertion order.
func (s *Service) Events(ctx context.Context, f EventFilter) ([]*EventView, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Events", trace.WithAttributes(
		attribute.String("filter.status", string(f.Status)),
		attribute.Bool("filter.sla_breached_only", f.SLABreachedOnly),
	))
	defer span.End()

	if f.Status != "" && !f.Status.Valid() {
		err := fmt.Errorf("unknown status %q: %w", f.Status, ErrValidation)
		recordErr(span, err)
		return nil, err
	}

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	bySite := make(map[string]*Asset, len(assets))
	for i := range assets {
		bySite[assets[i].SiteID] = &assets[i]
	}

	now := s.now()
	views := make([]*EventView, 0, len(events))
	breached, unknownSite := 0, 0
	for i := range events {
		ev := &events[i]
		asset := bySite[ev.SiteID]
		if asset == nil {
			unknownSite++
		}
		v := s.view(ev, asset, now)
		if v.Breached() {
			breached++
		}
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if f.SLABreachedOnly && !v.Breached() {
			continue
		}
		views = append(views, v)
	}
	s.metrics.breached(breached)
	if unknownSite > 0 {
		s.logger.Warn(ctx, "events reference unknown sites", "count", unknownSite)
	}

	span.SetAttributes(attribute.Int("events.returned", len(views)))
	return views, nil
}

// Event returns the view of a single event.
func (s *Service) Event(ctx context.Context, id string) (*EventView, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Event", trace.WithAttributes(
		attribute.String("event.id", id),
	))
	defer span.End()

	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return s.buildView(ctx, ev, s.now())
}

// StartInvestigation moves the event to INVESTIGATING. Repeating the call on
// an event already under investigation returns its current view unchanged.
func (s *Service) StartInvestigation(ctx context.Context, id string) (*EventView, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.StartInvestigation", trace.WithAttributes(
		attribute.String("event.id", id),
	))
	defer span.End()

	now := s.now()
	ev, applied, err := s.store.StartInvestigation(ctx, id, now)
	s.recordMutation(ctx, "start_investigation", id, applied, err)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	v, err := s.buildView(ctx, ev, now)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	if applied {
		s.notify(ctx, TransitionInvestigating, v, now)
	}
	return v, nil
}

// SubmitReport moves the event to REPORTED. When the transition applies the
// report document is archived and a notification sent; failures of either
// are logged and do not fail the call.
func (s *Service) SubmitReport(ctx context.Context, id string) (*EventView, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.SubmitReport", trace.WithAttributes(
		attribute.String("event.id", id),
	))
	defer span.End()

	now := s.now()
	ev, applied, err := s.store.SubmitReport(ctx, id, now)
	s.recordMutation(ctx, "submit_report", id, applied, err)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	v, err := s.buildView(ctx, ev, now)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	if applied {
		s.archive(ctx, v, now)
		s.notify(ctx, TransitionReported, v, now)
	}
	return v, nil
}

// CompleteRunbookItem marks one checklist step done. Completing an already
// completed step returns the current view unchanged.
func (s *Service) CompleteRunbookItem(ctx context.Context, id, itemID string) (*EventView, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.CompleteRunbookItem", trace.WithAttributes(
		attribute.String("event.id", id),
		attribute.String("runbook.item_id", itemID),
	))
	defer span.End()

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		err := fmt.Errorf("runbook item id is required: %w", ErrValidation)
		recordErr(span, err)
		return nil, err
	}

	now := s.now()
	ev, applied, err := s.store.CompleteRunbookItem(ctx, id, itemID, now)
	s.recordMutation(ctx, "complete_runbook_item", id, applied, err, "item_id", itemID)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return s.buildView(ctx, ev, now)
}

// Import appends events from a CSV payload.
func (s *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Import")
	defer span.End()

	res, err := s.store.ImportEvents(ctx, r)
	if err != nil {
		s.metrics.mutation("import", "error")
		s.logger.Error(ctx, err, "event import failed")
		recordErr(span, err)
		return ImportResult{}, err
	}

	result := "applied"
	if res.Imported == 0 {
		result = "noop"
	}
	s.metrics.mutation("import", result)
	s.metrics.importRows(res.Imported, res.Skipped)
	span.SetAttributes(
		attribute.String("import.batch_id", res.BatchID),
		attribute.Int("import.imported", res.Imported),
		attribute.Int("import.skipped", res.Skipped),
	)
	s.logger.Info(ctx, "events imported",
		"batch_id", res.BatchID,
		"imported", res.Imported,
		"skipped", res.Skipped,
	)
	return res, nil
}

// Brief asks the assistant for a response briefing on one event.
func (s *Service) Brief(ctx context.Context, id, focus string) (*Brief, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Brief", trace.WithAttributes(
		attribute.String("event.id", id),
	))
	defer span.End()

	if s.assistant == nil {
		err := fmt.Errorf("no assistant configured: %w", ErrAssistantUnavailable)
		recordErr(span, err)
		return nil, err
	}

	v, err := s.Event(ctx, id)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	b, err := s.assistant.Brief(ctx, v, strings.TrimSpace(focus))
	if err != nil {
		s.logger.Error(ctx, err, "assistant brief failed", "event_id", id)
		recordErr(span, err)
		if !errors.Is(err, ErrAssistantUnavailable) {
			err = fmt.Errorf("%w: %w", ErrAssistantUnavailable, err)
		}
		return nil, err
	}

	s.logger.Info(ctx, "assistant brief generated",
		"event_id", id,
		"model", b.Model,
		"input_tokens", b.Usage.InputTokens,
		"output_tokens", b.Usage.OutputTokens,
	)
	return b, nil
}

// Report renders the report document of one event as of now.
func (s *Service) Report(ctx context.Context, id string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "emissions.Service.Report", trace.WithAttributes(
		attribute.String("event.id", id),
	))
	defer span.End()

	now := s.now()
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	v, err := s.buildView(ctx, ev, now)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return NewReport(v, now), nil
}

// buildView looks up the event's asset and derives its view.
func (s *Service) buildView(ctx context.Context, ev *Event, now time.Time) (*EventView, error) {
	asset, err := s.store.GetAsset(ctx, ev.SiteID)
	switch {
	case errors.Is(err, ErrNotFound):
		asset = nil
	case err != nil:
		return nil, err
	}
	if asset == nil {
		s.logger.Warn(ctx, "event references unknown site", "event_id", ev.ID, "site_id", ev.SiteID)
	}
	return s.view(ev, asset, now), nil
}

func (s *Service) view(ev *Event, asset *Asset, now time.Time) *EventView {
	v := BuildView(ev, asset, s.runbook, now)
	s.metrics.bucket(v.TriageBucket)
	return v
}

func (s *Service) recordMutation(ctx context.Context, op, id string, applied bool, err error, kv ...any) {
	fields := append([]any{"op", op, "event_id", id}, kv...)
	switch {
	case err != nil:
		s.metrics.mutation(op, "error")
		s.logger.Error(ctx, err, "event mutation failed", fields...)
	case applied:
		s.metrics.mutation(op, "applied")
		s.logger.Info(ctx, "event mutation applied", fields...)
	default:
		s.metrics.mutation(op, "noop")
		s.logger.Info(ctx, "event mutation had no effect", fields...)
	}
}

func (s *Service) notify(ctx context.Context, t Transition, v *EventView, at time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, &Notification{Transition: t, View: v, At: at}); err != nil {
		s.logger.Error(ctx, err, "lifecycle notification failed", "event_id", v.ID, "transition", t)
	}
}

func (s *Service) archive(ctx context.Context, v *EventView, now time.Time) {
	if s.archiver == nil {
		return
	}
	loc, err := s.archiver.Archive(ctx, NewReport(v, now))
	if err != nil {
		s.logger.Error(ctx, err, "report archive failed", "event_id", v.ID)
		return
	}
	s.logger.Info(ctx, "report archived", "event_id", v.ID, "location", loc)
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
