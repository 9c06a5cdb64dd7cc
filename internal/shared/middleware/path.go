package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// routePath prefers the matched route template over the raw URL so secrets
// carried in path segments are not written to logs.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
