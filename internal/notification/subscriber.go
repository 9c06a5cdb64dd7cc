package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/shared/events"
)

// Dispatcher is the part of Service the event subscriber needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// route maps an application event to the stored type and delivery channels.
type route struct {
	typ      Type
	source   Source
	channels Channels
}

var routes = map[string]route{
	events.SocialFollowed:        {TypeFollow, SourceUser, Channels{Site: true, Chat: true}},
	events.ExamCommented:         {TypeExamComment, SourceUser, Channels{Site: true, Chat: true}},
	events.RecommendationCreated: {TypeRecommendation, SourceUser, Channels{Site: true, Chat: true}},
	events.AccessRequested:       {TypeAccessRequest, SourceUser, AllChannels()},
	events.AccessGranted:         {TypeAccessGranted, SourceUser, AllChannels()},
	events.AccessDenied:          {TypeAccessDenied, SourceUser, AllChannels()},
	events.AdminMessage:          {TypeAdminMessage, SourceAdmin, AllChannels()},
}

// Subscriber turns profile-addressed events into dispatches.
type Subscriber struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewSubscriber creates a subscriber
func NewSubscriber(dispatcher Dispatcher, logger *zap.Logger) *Subscriber {
	return &Subscriber{dispatcher: dispatcher, logger: logger.Named("notification.subscriber")}
}

// Register subscribes to every routed event type.
func (s *Subscriber) Register(bus *events.Bus) {
	for eventType := range routes {
		bus.Subscribe(eventType, "notification", s.Handle)
	}
}

// Handle dispatches one event.
func (s *Subscriber) Handle(ctx context.Context, e events.Event) error {
	r, ok := routes[e.Type]
	if !ok {
		return nil
	}

	data, err := events.DecodeData[events.ProfileEvent](e)
	if err != nil {
		return err
	}
	if data.RecipientID <= 0 {
		return fmt.Errorf("event %s %s: missing recipient", e.Type, e.ID)
	}

	req := DispatchRequest{
		RecipientID: data.RecipientID,
		Type:        r.typ,
		Title:       data.Title,
		Message:     data.Message,
		URL:         data.URL,
		ButtonText:  data.ButtonText,
		Payload:     data.Payload,
		Source:      r.source,
		Scope:       ScopePersonal,
		Channels:    r.channels,
	}
	if data.SenderID > 0 {
		sender := data.SenderID
		req.SenderID = &sender
	}

	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	s.logger.Debug("event dispatched",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.Bool("chat_sent", res.ChatSent),
		zap.Bool("email_sent", res.EmailSent),
	)
	return nil
}
