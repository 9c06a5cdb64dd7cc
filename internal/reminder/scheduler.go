package reminder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/notification"
	"github.com/rhymesoflife/platform/internal/shared/i18n"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
)

// Config holds scheduler configuration
type Config struct {
	// Interval is the time between ticks.
	Interval time.Duration
	// ErrorBackoff replaces Interval after a failed tick.
	ErrorBackoff time.Duration
	// DefaultLocation applies to schedules without a timezone.
	DefaultLocation *time.Location
	// BatchSize is how many candidates are read per query.
	BatchSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		ErrorBackoff:    30 * time.Second,
		DefaultLocation: time.UTC,
		BatchSize:       500,
	}
}

// Scheduler periodically sends due reminders.
type Scheduler struct {
	store      Store
	dedupe     Dedupe
	dispatcher notification.Dispatcher
	translator *i18n.Translator
	config     Config
	now        func() time.Time
	logger     *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. dedupe may be nil to rely on the
// durable claim only.
func NewScheduler(store Store, dedupe Dedupe, dispatcher notification.Dispatcher, translator *i18n.Translator, cfg Config, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = def.DefaultLocation
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Scheduler{
		store:      store,
		dedupe:     dedupe,
		dispatcher: dispatcher,
		translator: translator,
		config:     cfg,
		now:        time.Now,
		logger:     logger.Named("scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start ticks immediately and then every Interval until ctx is cancelled or
// Stop is called. A tick in progress always runs to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("reminder scheduler started", zap.Duration("interval", s.config.Interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return nil
		case <-s.stopCh:
			s.logger.Info("reminder scheduler stopped")
			return nil
		case <-timer.C:
			next := s.config.Interval
			if _, err := s.Tick(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("reminder tick failed", zap.Error(err))
				next = s.config.ErrorBackoff
			}
			timer.Reset(next)
		}
	}
}

// Stop ends the loop started by Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Tick processes every candidate once and returns how many reminders it
// claimed and dispatched. Per-profile failures are logged and skipped; only
// a failure to read candidates is returned.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordReminderTick(time.Since(start)) }()

	now := s.now()
	sent := 0
	var afterID int64
	for {
		batch, err := s.store.Candidates(ctx, afterID, s.config.BatchSize)
		if err != nil {
			return sent, err
		}
		for _, c := range batch {
			if s.process(ctx, c, now) {
				sent++
			}
		}
		if len(batch) < s.config.BatchSize {
			break
		}
		afterID = batch[len(batch)-1].ProfileID
	}

	if sent > 0 {
		s.logger.Info("reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

// process handles one candidate and reports whether a reminder went out.
func (s *Scheduler) process(ctx context.Context, c Candidate, now time.Time) bool {
	log := s.logger.With(zap.Int64("profile_id", c.ProfileID))

	local := now.In(c.Location(s.config.DefaultLocation))
	if !c.Due(local) {
		return false
	}
	if !c.Stale(local) {
		return false
	}
	day := local.Format(DayLayout)

	if s.dedupe != nil {
		first, err := s.dedupe.Mark(ctx, c.ProfileID, day)
		switch {
		case err != nil:
			log.Warn("dedupe unavailable, relying on database claim", zap.Error(err))
		case !first:
			metrics.RecordReminder("deduped")
			return false
		}
	}

	title := s.translator.T(c.Language, i18n.ReminderTitle)
	message := s.translator.T(c.Language, i18n.ReminderMessage)
	payload := map[string]any{"kind": MarkerKind, "day": day}

	marker := &notification.Notification{
		RecipientID: c.ProfileID,
		Type:        notification.TypeSystemMessage,
		Title:       title,
		Message:     message,
		Payload:     payload,
		Source:      notification.SourceSystem,
		Scope:       notification.ScopePersonal,
	}
	claimed, err := s.store.ClaimDay(ctx, c.ProfileID, day, marker)
	if err != nil {
		log.Error("reminder claim failed", zap.String("day", day), zap.Error(err))
		metrics.RecordReminder("error")
		s.release(ctx, c.ProfileID, day)
		return false
	}
	if !claimed {
		log.Debug("reminder already claimed", zap.String("day", day))
		metrics.RecordReminder("claimed_elsewhere")
		return false
	}

	res, err := s.dispatcher.Dispatch(ctx, notification.DispatchRequest{
		RecipientID:  c.ProfileID,
		Type:         notification.TypeSystemMessage,
		Title:        title,
		Message:      message,
		Payload:      payload,
		Source:       notification.SourceSystem,
		Scope:        notification.ScopePersonal,
		Channels:     notification.Channels{Chat: c.ChatEnabled, Email: c.EmailEnabled},
		EmailSubject: title,
		EmailBody:    message,
	})
	// The marker stays even if delivery fails: no second reminder today.
	switch {
	case err != nil:
		log.Warn("reminder dispatch failed", zap.String("day", day), zap.Error(err))
		metrics.RecordReminder("delivery_failed")
	case !res.ChatSent && !res.EmailSent:
		log.Warn("reminder not delivered on any channel", zap.String("day", day))
		metrics.RecordReminder("delivery_failed")
	default:
		log.Info("reminder sent", zap.String("day", day), zap.Bool("chat", res.ChatSent), zap.Bool("email", res.EmailSent))
		metrics.RecordReminder("sent")
	}
	return true
}

func (s *Scheduler) release(ctx context.Context, profileID int64, day string) {
	if s.dedupe == nil {
		return
	}
	if err := s.dedupe.Release(ctx, profileID, day); err != nil {
		s.logger.Debug("dedupe release failed", zap.Int64("profile_id", profileID), zap.Error(err))
	}
}
