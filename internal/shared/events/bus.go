package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event represents a domain event emitted by application code after a
// successful write.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// ActorID is the profile that caused the event, zero for system actions.
	ActorID int64 `json:"actor_id,omitempty"`

	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor sets the acting profile on the event
func (e Event) WithActor(profileID int64) Event {
	e.ActorID = profileID
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// Publisher is the write side used by application code.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type subscription struct {
	pattern  string
	consumer string
	handler  Handler
}

// Bus delivers events synchronously, in subscription order, to every
// handler whose pattern matches. Publish returns once all handlers ran.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *zap.Logger
}

// NewBus creates an empty in-process bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("events")}
}

// Subscribe registers handler for events matching pattern. Patterns are exact
// types ("social.followed"), a prefix wildcard ("access.*") or "*".
func (b *Bus) Subscribe(pattern, consumer string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, consumer: consumer, handler: handler})
}

// Publish runs every matching handler. A failing handler does not stop the
// others; all failures are joined into the returned error.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchesPattern(event.Type, s.pattern) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.String("consumer", s.consumer),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.consumer, err))
		}
	}
	return errors.Join(errs...)
}

// matchesPattern checks if an event type matches a wildcard pattern
func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	typeParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			return true
		}
		if i >= len(typeParts) || pp != typeParts[i] {
			return false
		}
	}

	return len(patternParts) == len(typeParts)
}
