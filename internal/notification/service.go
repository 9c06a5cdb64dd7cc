package notification

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/i18n"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
)

// Service persists notifications and fans them out to chat and email.
type Service struct {
	store      Store
	recipients RecipientResolver
	chat       ChatProvider
	email      EmailProvider
	render     renderer
	validate   *validator.Validate
	config     ServiceConfig
	logger     *zap.Logger
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	// BaseURL resolves site-relative notification links.
	BaseURL string
	// BroadcastPageSize is how many recipient ids are read per query.
	BroadcastPageSize int
	// BroadcastWorkers bounds concurrent dispatches during a broadcast.
	BroadcastWorkers int
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BroadcastPageSize: 500,
		BroadcastWorkers:  4,
	}
}

// NewService creates a new notification service. chat and email may be nil
// when the channel is not available in this process.
func NewService(
	store Store,
	recipients RecipientResolver,
	chat ChatProvider,
	email EmailProvider,
	translator *i18n.Translator,
	config ServiceConfig,
	logger *zap.Logger,
) *Service {
	if config.BroadcastPageSize <= 0 {
		config.BroadcastPageSize = DefaultServiceConfig().BroadcastPageSize
	}
	if config.BroadcastWorkers <= 0 {
		config.BroadcastWorkers = DefaultServiceConfig().BroadcastWorkers
	}
	return &Service{
		store:      store,
		recipients: recipients,
		chat:       chat,
		email:      email,
		render:     renderer{translator: translator, baseURL: config.BaseURL},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		config:     config,
		logger:     logger.Named("notification"),
	}
}

// Dispatch delivers req to its recipient. The site record is written first
// and is the only step whose failure is returned; chat and email failures
// are logged and reflected in the result flags.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	applyDefaults(&req)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return s.dispatch(ctx, req)
}

func (s *Service) dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	result := &DispatchResult{}
	log := s.logger.With(zap.Int64("recipient_id", req.RecipientID), zap.String("type", string(req.Type)))

	if req.Channels.Site {
		n := &Notification{
			RecipientID: req.RecipientID,
			SenderID:    req.SenderID,
			Type:        req.Type,
			Title:       req.Title,
			Message:     req.Message,
			URL:         req.URL,
			Payload:     req.Payload,
			Source:      req.Source,
			Scope:       req.Scope,
		}
		if err := s.store.Create(ctx, n); err != nil {
			metrics.RecordDispatch("site", false)
			log.Error("failed to persist notification", zap.Error(err))
			return nil, err
		}
		metrics.RecordDispatch("site", true)
		result.NotificationID = &n.ID
	}

	if !req.Channels.Chat && !req.Channels.Email {
		return result, nil
	}

	rec, err := s.recipients.Resolve(ctx, req.RecipientID)
	if err != nil {
		log.Warn("recipient lookup failed, external channels skipped", zap.Error(err))
		return result, nil
	}

	if req.Channels.Chat && rec.ChatID != nil && s.chat != nil {
		res := s.chat.SendMessage(ctx, s.render.chatMessage(*rec.ChatID, req, rec.Language))
		result.ChatSent = res.OK
		metrics.RecordDispatch("chat", res.OK)
		if !res.OK {
			log.Warn("chat delivery failed", zap.String("channel", "chat"), zap.String("reason", res.Message))
		}
	}

	if req.Channels.Email && rec.Email != "" && s.email != nil {
		res := s.email.Send(ctx, s.render.emailMessage(rec.Email, req, rec.Language))
		result.EmailSent = res.OK
		metrics.RecordDispatch("email", res.OK)
		if !res.OK {
			log.Warn("email delivery failed", zap.String("channel", "email"), zap.String("reason", res.Message))
		}
	}

	return result, nil
}

// Broadcast dispatches req to every profile with scope=broadcast and returns
// how many recipients got a site record or at least one external delivery.
// A run cut short by cancellation keeps whatever was already delivered.
func (s *Service) Broadcast(ctx context.Context, req DispatchRequest) (int, error) {
	applyDefaults(&req)
	req.Scope = ScopeBroadcast
	if err := s.validate.StructExcept(req, "RecipientID"); err != nil {
		return 0, validationError(err)
	}

	var delivered atomic.Int64
	var afterID int64
	for {
		ids, err := s.recipients.ListRecipientIDs(ctx, afterID, s.config.BroadcastPageSize)
		if err != nil {
			return int(delivered.Load()), err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.BroadcastWorkers)
		for _, id := range ids {
			one := req
			one.RecipientID = id
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := s.dispatch(gctx, one)
				if err == nil && (res.NotificationID != nil || res.ChatSent || res.EmailSent) {
					delivered.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return int(delivered.Load()), err
		}
		afterID = ids[len(ids)-1]
	}

	s.logger.Info("broadcast finished", zap.String("type", string(req.Type)), zap.Int64("delivered", delivered.Load()))
	return int(delivered.Load()), nil
}

// Store exposes the inbox store for the HTTP layer.
func (s *Service) Store() Store {
	return s.store
}

func applyDefaults(req *DispatchRequest) {
	if req.Source == "" {
		req.Source = SourceSystem
	}
	if req.Scope == "" {
		req.Scope = ScopePersonal
	}
}

func validationError(err error) error {
	details := map[string]string{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return apperrors.Validation(fmt.Sprintf("invalid notification: %v", err), details)
}
