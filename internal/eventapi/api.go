// Package eventapi exposes the emissions service over HTTP.
package eventapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/plume/internal/emissions"
)

// DefaultMaxUploadBytes caps import uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// EventService defines the business operations eventapi needs.
type EventService interface {
	Assets(ctx context.Context) ([]emissions.Asset, error)
	Events(ctx context.Context, f emissions.EventFilter) ([]*emissions.EventView, error)
	Event(ctx context.Context, id string) (*emissions.EventView, error)
	StartInvestigation(ctx context.Context, id string) (*emissions.EventView, error)
	SubmitReport(ctx context.Context, id string) (*emissions.EventView, error)
	CompleteRunbookItem(ctx context.Context, id, itemID string) (*emissions.EventView, error)
	Import(ctx context.Context, r io.Reader) (emissions.ImportResult, error)
	Brief(ctx context.Context, id, focus string) (*emissions.Brief, error)
	Report(ctx context.Context, id string) (*emissions.Report, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger         log.Logger
	svc            EventService
	maxUploadBytes int64
}

// Option configures an API.
type Option func(*API)

// WithMaxUploadBytes limits the size of an import request body.
func WithMaxUploadBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// New creates a new API handler.
func New(logger log.Logger, svc EventService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("event service is required"))
	}
	a := &API{
		logger:         logger,
		svc:            svc,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/assets", a.handleListAssets)
		r.Route("/events", func(r chi.Router) {
			r.Get("/", a.handleListEvents)
			r.Post("/import", a.handleImport)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetEvent)
				r.Post("/investigate", a.handleInvestigate)
				r.Post("/report", a.handleSubmitReport)
				r.Get("/report", a.handleGetReport)
				r.Post("/runbook", a.handleCompleteRunbook)
				r.Post("/assistant", a.handleAssistant)
			})
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v before committing the status, so an unencodable value
// becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(errorBody{Error: "internal error"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// client went away, nothing useful to do
	_, _ = w.Write(buf.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps service failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, emissions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, emissions.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, emissions.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and hides their detail from clients.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}
