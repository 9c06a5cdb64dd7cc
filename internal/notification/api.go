package notification

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rhymesoflife/platform/internal/shared/auth"
	"github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/httputil"
	"github.com/rhymesoflife/platform/internal/shared/types"
)

// Broadcaster is the part of Service the admin endpoint needs.
type Broadcaster interface {
	Dispatcher
	Broadcast(ctx context.Context, req DispatchRequest) (int, error)
}

// Handler serves the inbox and the admin notify endpoint.
type Handler struct {
	store    Store
	service  Broadcaster
	validate *validator.Validate
}

// NewHandler creates a new notification handler
func NewHandler(store Store, service Broadcaster) *Handler {
	return &Handler{store: store, service: service, validate: validator.New()}
}

// Routes registers the inbox routes. Mount behind auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Post("/read-all", h.MarkAllRead)
	r.Post("/{notificationID}/read", h.MarkRead)
	r.Delete("/{notificationID}", h.Delete)

	return r
}

// AdminRoutes registers the staff notify endpoint. Mount behind auth.Middleware.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleStaff)).Post("/", h.AdminNotify)
	return r
}

// List returns the caller's notifications, newest first.
// ?include_deleted=true also returns soft-deleted ones.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	page := Page{
		Limit:  httputil.QueryInt(r, "limit", 50, 1, 200),
		Offset: httputil.QueryInt(r, "offset", 0, 0, 1<<30),
	}

	find := h.store.FindActive
	if r.URL.Query().Get("include_deleted") == "true" {
		find = h.store.FindAll
	}

	items, err := find(r.Context(), user.ProfileID, page)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": page.Limit, "offset": page.Offset})
}

// UnreadCount returns the number of unread notifications.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	count, err := h.store.CountUnread(r.Context(), user.ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkRead marks one notification as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNotificationID(w, r)
	if !ok {
		return
	}
	if err := h.store.MarkRead(r.Context(), auth.GetUser(r.Context()).ProfileID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead marks every notification as read.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.MarkAllRead(r.Context(), auth.GetUser(r.Context()).ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// Delete soft-deletes one notification.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNotificationID(w, r)
	if !ok {
		return
	}
	if err := h.store.SoftDelete(r.Context(), auth.GetUser(r.Context()).ProfileID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminNotifyRequest is the body of POST /api/v1/admin/notifications.
type AdminNotifyRequest struct {
	Scope            Scope  `json:"scope" validate:"required,oneof=personal broadcast"`
	NotificationType Type   `json:"notification_type" validate:"required,oneof=ADMIN_MESSAGE SYSTEM_MESSAGE"`
	Title            string `json:"title" validate:"max=255"`
	Message          string `json:"message" validate:"required,max=4000"`
	URL              string `json:"url" validate:"omitempty,max=2048"`
	RecipientID      int64  `json:"recipient_id" validate:"required_if=Scope personal,gte=0"`
}

// AdminNotify sends a personal or broadcast notice from staff.
func (h *Handler) AdminNotify(w http.ResponseWriter, r *http.Request) {
	var body AdminNotifyRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	body.Title = strings.TrimSpace(body.Title)
	body.Message = strings.TrimSpace(body.Message)
	body.URL = strings.TrimSpace(body.URL)
	if err := h.validate.Struct(body); err != nil {
		httputil.WriteError(w, validationError(err))
		return
	}

	sender := auth.GetUser(r.Context()).ProfileID
	source := SourceSystem
	if body.NotificationType == TypeAdminMessage {
		source = SourceAdmin
	}
	req := DispatchRequest{
		RecipientID: body.RecipientID,
		SenderID:    &sender,
		Type:        body.NotificationType,
		Title:       body.Title,
		Message:     body.Message,
		URL:         body.URL,
		Source:      source,
		Scope:       body.Scope,
		Channels:    Channels{Site: true, Chat: true},
	}

	if body.Scope == ScopeBroadcast {
		sent, err := h.service.Broadcast(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "sent": sent})
		return
	}

	res, err := h.service.Dispatch(r.Context(), req)
	if err != nil {
		if errors.IsNotFound(err) {
			httputil.WriteError(w, errors.BadRequest("recipient not found"))
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": res.NotificationID})
}

func parseNotificationID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.WriteError(w, errors.BadRequest("invalid notification id"))
		return "", false
	}
	return id, true
}
