package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		eventType string
		pattern   string
		want      bool
	}{
		{"access.granted", "access.granted", true},
		{"access.granted", "access.*", true},
		{"access.granted", "*", true},
		{"access.granted", "access.denied", false},
		{"access.granted", "social.*", false},
		{"access", "access.granted", false},
		{"access.granted.extra", "access.granted", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType+"~"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.eventType, tt.pattern))
		})
	}
}

func TestBusPublish(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe("access.*", "first", func(ctx context.Context, e Event) error {
		got = append(got, "first:"+e.Type)
		return errors.New("boom")
	})
	bus.Subscribe(AccessGranted, "second", func(ctx context.Context, e Event) error {
		got = append(got, "second:"+e.Type)
		return nil
	})
	bus.Subscribe(SocialFollowed, "third", func(ctx context.Context, e Event) error {
		got = append(got, "third:"+e.Type)
		return nil
	})

	err := bus.Publish(context.Background(), NewEvent(AccessGranted, "test", ProfileEvent{RecipientID: 1}))

	assert.ErrorContains(t, err, "first: boom")
	assert.Equal(t, []string{"first:access.granted", "second:access.granted"}, got)
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.NoError(t, bus.Publish(context.Background(), NewEvent(AdminMessage, "test", nil)))
}
