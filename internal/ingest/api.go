// Package ingest accepts application events from the rest of the site over
// HTTP and publishes them on the in-process bus.
package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/shared/auth"
	"github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/events"
	"github.com/rhymesoflife/platform/internal/shared/httputil"
)

const source = "ingest-api"

// Handler publishes posted events.
type Handler struct {
	bus    events.Publisher
	logger *zap.Logger
}

// NewHandler creates a new ingest handler
func NewHandler(bus events.Publisher, logger *zap.Logger) *Handler {
	return &Handler{bus: bus, logger: logger.Named("ingest")}
}

// Routes registers the ingest routes. Mount behind auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleStaff)).Post("/", h.Publish)
	return r
}

// PublishRequest is one event as sent by the site.
type PublishRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publish decodes, checks and publishes one event.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	data, err := decode(req.Type, req.Data)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	event := events.NewEvent(req.Type, source, data).
		WithCorrelation(middleware.GetReqID(r.Context()))
	if user := auth.GetUser(r.Context()); user != nil {
		event = event.WithActor(user.ProfileID)
	}

	if err := h.bus.Publish(r.Context(), event); err != nil {
		h.logger.Error("event handlers failed",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		httputil.WriteError(w, errors.Internal(err))
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": event.ID})
}

// decode parses data into the payload type registered for eventType.
func decode(eventType string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, errors.BadRequest("data is required")
	}

	switch eventType {
	case events.SocialFollowed, events.ExamCommented, events.RecommendationCreated,
		events.AccessRequested, events.AccessGranted, events.AccessDenied, events.AdminMessage:
		var d events.ProfileEvent
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.BadRequest("invalid event data")
		}
		if d.RecipientID <= 0 {
			return nil, errors.Validation("invalid event data", map[string]string{"recipient_id": "required"})
		}
		return d, nil

	case events.AccountRegistered:
		var d events.AccountRegisteredData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.BadRequest("invalid event data")
		}
		if d.UserID <= 0 {
			return nil, errors.Validation("invalid event data", map[string]string{"user_id": "required"})
		}
		return d, nil

	case events.DocumentUploaded:
		var d events.DocumentUploadedData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.BadRequest("invalid event data")
		}
		if d.DocumentID <= 0 {
			return nil, errors.Validation("invalid event data", map[string]string{"document_id": "required"})
		}
		return d, nil
	}
	return nil, errors.BadRequest("unknown event type")
}
