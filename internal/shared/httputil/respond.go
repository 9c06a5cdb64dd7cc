// Package httputil holds the JSON response helpers shared by API handlers.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/rhymesoflife/platform/internal/shared/errors"
)

// WriteJSON writes data as a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError maps err to a JSON error response. Errors that are not
// *errors.AppError are reported as a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if ra, ok := appErr.Details["retry_after"]; ok {
			w.Header().Set("Retry-After", ra)
		}
		WriteJSON(w, appErr.HTTPStatus, map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// DecodeJSON reads a JSON request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.BadRequest("invalid JSON body")
	}
	return nil
}

// QueryInt returns the integer query parameter key clamped to [min, max], or def.
func QueryInt(r *http.Request, key string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
