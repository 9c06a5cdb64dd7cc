// Package channels holds the outbound delivery adapters: the chat bot, the
// transactional email sender and the voice-call OTP provider.
package channels

import "errors"

var (
	// ErrNotConfigured means a required token, key or URL is missing.
	ErrNotConfigured = errors.New("channel not configured")
	// ErrProvider wraps transport failures, non-2xx answers and malformed bodies.
	ErrProvider = errors.New("provider error")
)

// Result is the outcome of a send-style call. Adapters never return an
// error for expected provider failures; they report them here.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Sent is a successful Result.
func Sent() Result {
	return Result{OK: true}
}

// Failed builds an unsuccessful Result from err.
func Failed(err error) Result {
	return Result{OK: false, Message: err.Error()}
}
