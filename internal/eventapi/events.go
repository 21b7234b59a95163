package eventapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/plume/internal/emissions"
)

type eventList struct {
	Events []*emissions.EventView `json:"events"`
}

type runbookRequest struct {
	ItemID string `json:"item_id"`
}

type assistantRequest struct {
	Focus string `json:"focus"`
}

func eventID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("plume.event.id", id))
	return id
}

func (a *API) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := a.svc.Assets(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to list assets")
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := emissions.EventFilter{Status: emissions.Status(q.Get("status"))}
	if v := q.Get("sla_breached_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "sla_breached_only must be a boolean")
			return
		}
		f.SLABreachedOnly = b
	}

	views, err := a.svc.Events(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to list events")
		return
	}
	if views == nil {
		views = []*emissions.EventView{}
	}
	writeJSON(w, http.StatusOK, eventList{Events: views})
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	v, err := a.svc.Event(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get event", "event_id", id)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	v, err := a.svc.StartInvestigation(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to start investigation", "event_id", id)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	v, err := a.svc.SubmitReport(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to submit report", "event_id", id)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	rep, err := a.svc.Report(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to render report", "event_id", id)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleCompleteRunbook(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	var req runbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid payload")
		return
	}
	v, err := a.svc.CompleteRunbookItem(r.Context(), id, req.ItemID)
	if err != nil {
		a.writeError(w, r, err, "failed to complete runbook item", "event_id", id, "item_id", req.ItemID)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleAssistant(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	var req assistantRequest
	// an empty body means no focus
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid payload")
		return
	}
	brief, err := a.svc.Brief(r.Context(), id, req.Focus)
	if err != nil {
		a.writeError(w, r, err, "failed to generate brief", "event_id", id)
		return
	}
	writeJSON(w, http.StatusOK, brief)
}
