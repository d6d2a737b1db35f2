// Package triggerapi exposes the trigger-to-dispatch pipeline over HTTP.
package triggerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/muster/internal/ack"
	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/paging"
	"github.com/linnemanlabs/muster/internal/pipeline"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/trigger"
)

// PipelineService defines the business operations triggerapi needs.
type PipelineService interface {
	Submit(ctx context.Context, deviceID string, sig trigger.Signal) (*pipeline.SubmitResult, error)
	Event(ctx context.Context, eventID string) (*pipeline.EventView, bool, error)
	Acknowledge(ctx context.Context, eventID, by, note string) (*ack.Record, error)
	Advance(ctx context.Context, eventID string, to ack.Status, by, note string) (*ack.Record, error)
	Escalate(ctx context.Context, eventID string) error
	AreaAlert(ctx context.Context, req pipeline.AreaAlertRequest) (*dispatch.Result, error)
	Incidents(ctx context.Context, limit int) ([]*incident.Incident, error)
}

// PagingAcker acknowledges paging messages, satisfied by *paging.Adapter.
type PagingAcker interface {
	Ack(messageID, who string) (*paging.Message, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PipelineService
	pager  PagingAcker
}

// New creates a new API handler. pager may be nil when no paging network
// is configured.
func New(logger log.Logger, svc PipelineService, pager PagingAcker) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		pager:  pager,
	}
}

// RegisterRoutes attaches API endpoints to the router. Signal ingestion
// and the operator surface carry separate bearer-token middlewares so a
// leaked device credential cannot acknowledge or escalate events; nil
// middlewares register the routes unauthenticated (tests).
func (a *API) RegisterRoutes(r chi.Router, deviceAuth, operatorAuth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deviceAuth != nil {
				r.Use(deviceAuth)
			}
			r.Post("/signals/{deviceID}", a.handleSignal)
		})
		r.Group(func(r chi.Router) {
			if operatorAuth != nil {
				r.Use(operatorAuth)
			}
			r.Get("/events/{id}", a.handleGetEvent)
			r.Post("/events/{id}/ack", a.handleAck)
			r.Post("/events/{id}/status", a.handleStatus)
			r.Post("/events/{id}/escalate", a.handleEscalate)
			r.Get("/incidents", a.handleListIncidents)
			r.Post("/area-alerts", a.handleAreaAlert)
			r.Post("/paging/ack", a.handlePagingAck)
		})
	})
}

func (a *API) handleSignal(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("muster.device.id", deviceID))

	var sig trigger.Signal
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}

	res, err := a.svc.Submit(r.Context(), deviceID, sig)
	if err != nil {
		a.logger.Error(r.Context(), err, "signal submission failed", "device_id", deviceID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if res.Rejected {
		status := http.StatusNotFound
		if res.Reason == "inactive device" {
			status = http.StatusUnprocessableEntity
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": res.Reason})
		return
	}

	span.SetAttributes(attribute.String("muster.event.id", res.EventID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"event_id":    res.EventID,
		"incident_id": res.IncidentID,
	})
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("muster.event.id", id))

	view, ok, err := a.svc.Event(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get event", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

type ackRequest struct {
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
}

func (a *API) handleAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" {
		http.Error(w, `{"error":"by is required"}`, http.StatusBadRequest)
		return
	}

	rec, err := a.svc.Acknowledge(r.Context(), id, req.By, req.Note)
	if err != nil {
		a.writeAckError(w, r, err, id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

type statusRequest struct {
	To   string `json:"to"`
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" || req.To == "" {
		http.Error(w, `{"error":"to and by are required"}`, http.StatusBadRequest)
		return
	}
	switch ack.Status(req.To) {
	case ack.StatusAcknowledged, ack.StatusResponding, ack.StatusResolved:
	default:
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	rec, err := a.svc.Advance(r.Context(), id, ack.Status(req.To), req.By, req.Note)
	if err != nil {
		a.writeAckError(w, r, err, id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.svc.Escalate(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ack.ErrUnknownEvent):
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		case errors.Is(err, ack.ErrEscalationExhausted):
			http.Error(w, `{"error":"already escalated"}`, http.StatusConflict)
		default:
			a.logger.Error(r.Context(), err, "escalation failed", "id", id)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	incidents, err := a.svc.Incidents(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"incidents": incidents})
}

type areaAlertRequest struct {
	Building string          `json:"building"`
	Floor    string          `json:"floor,omitempty"`
	Zone     string          `json:"zone,omitempty"`
	Center   *position.Point `json:"center,omitempty"`
	RadiusM  float64         `json:"radius_m,omitempty"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Scenario string          `json:"scenario,omitempty"`
	Priority int             `json:"priority"`
	Channels []string        `json:"channels"`
}

func (a *API) handleAreaAlert(w http.ResponseWriter, r *http.Request) {
	var req areaAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" || len(req.Channels) == 0 {
		http.Error(w, `{"error":"title and channels are required"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.AreaAlert(r.Context(), pipeline.AreaAlertRequest{
		Building: req.Building,
		Floor:    req.Floor,
		Zone:     req.Zone,
		Center:   req.Center,
		RadiusM:  req.RadiusM,
		Title:    req.Title,
		Body:     req.Body,
		Scenario: req.Scenario,
		Priority: req.Priority,
		Channels: req.Channels,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrNoRecipients) {
			http.Error(w, `{"error":"no recipients in target area"}`, http.StatusUnprocessableEntity)
			return
		}
		a.logger.Error(r.Context(), err, "area alert failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(res)
}

type pagingAckRequest struct {
	MessageID string `json:"message_id"`
	By        string `json:"by"`
}

func (a *API) handlePagingAck(w http.ResponseWriter, r *http.Request) {
	if a.pager == nil {
		http.Error(w, `{"error":"paging not configured"}`, http.StatusNotImplemented)
		return
	}

	var req pagingAckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" || req.By == "" {
		http.Error(w, `{"error":"message_id and by are required"}`, http.StatusBadRequest)
		return
	}

	msg, err := a.pager.Ack(req.MessageID, req.By)
	if err != nil {
		if errors.Is(err, paging.ErrUnknownMessage) {
			http.Error(w, `{"error":"unknown message"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "paging ack failed", "message_id", req.MessageID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

func (a *API) writeAckError(w http.ResponseWriter, r *http.Request, err error, id string) {
	switch {
	case errors.Is(err, ack.ErrUnknownEvent):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, ack.ErrInvalidTransition):
		http.Error(w, `{"error":"invalid status transition"}`, http.StatusConflict)
	default:
		a.logger.Error(r.Context(), err, "status update failed", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
