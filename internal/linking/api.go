package linking

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/shared/auth"
	"github.com/rhymesoflife/platform/internal/shared/httputil"
	"github.com/rhymesoflife/platform/internal/shared/middleware"
)

const maxUpdateSize = 1 << 20

// Handler serves the bot webhook and the site's link endpoint.
type Handler struct {
	protocol *Protocol
	token    string
	limiter  *middleware.IPRateLimiter
	logger   *zap.Logger
}

// NewHandler creates the linking handler. token is the bot token expected in
// the webhook path; limiter may be nil.
func NewHandler(protocol *Protocol, token string, limiter *middleware.IPRateLimiter, logger *zap.Logger) *Handler {
	return &Handler{protocol: protocol, token: token, limiter: limiter, logger: logger.Named("linking.http")}
}

// WebhookRoutes registers POST /{token} with and without a trailing slash.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}
	r.Post("/{token}", h.Webhook)
	r.Post("/{token}/", h.Webhook)
	return r
}

// Routes registers the authenticated site routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/link", h.GetLink)
	return r
}

// Webhook accepts one Telegram update.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	presented := chi.URLParam(r, "token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		httputil.WriteJSON(w, http.StatusForbidden, map[string]bool{"ok": false})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateSize))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}
	in, err := ParseUpdate(body)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}

	if err := h.protocol.HandleUpdate(r.Context(), in); err != nil {
		// Non-2xx makes Telegram redeliver; handling is idempotent.
		h.logger.Error("update handling failed", zap.String("kind", string(in.Kind)), zap.Error(err))
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetLink returns the caller's deep link and link state.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	info, err := h.protocol.IssueLink(r.Context(), user.ProfileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}
