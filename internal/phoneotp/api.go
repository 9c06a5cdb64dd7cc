package phoneotp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rhymesoflife/platform/internal/shared/auth"
	"github.com/rhymesoflife/platform/internal/shared/httputil"
)

// Handler serves the phone verification endpoints.
type Handler struct {
	flow *Flow
}

// NewHandler creates a new phone verification handler
func NewHandler(flow *Flow) *Handler {
	return &Handler{flow: flow}
}

// Routes registers the routes. Mount behind auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/call", h.Call)
	r.Post("/change", h.Change)

	return r
}

type callRequest struct {
	Phone string `json:"phone"`
}

// Call places a verification call.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.flow.InitiateCall(r.Context(), auth.GetUser(r.Context()).ProfileID, req.Phone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

// Status reports pending, success, done or error.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.flow.CheckStatus(r.Context(), auth.GetUser(r.Context()).ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, resp.HTTPStatus, resp)
}

// Change clears the phone.
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.ChangePhone(r.Context(), auth.GetUser(r.Context()).ProfileID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
