package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels/email"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/channels/voice"
	"github.com/rhymesoflife/platform/internal/ingest"
	"github.com/rhymesoflife/platform/internal/linking"
	"github.com/rhymesoflife/platform/internal/notification"
	"github.com/rhymesoflife/platform/internal/phoneotp"
	"github.com/rhymesoflife/platform/internal/profile"
	"github.com/rhymesoflife/platform/internal/reminder"
	"github.com/rhymesoflife/platform/internal/shared/auth"
	"github.com/rhymesoflife/platform/internal/shared/cache"
	"github.com/rhymesoflife/platform/internal/shared/config"
	"github.com/rhymesoflife/platform/internal/shared/database"
	"github.com/rhymesoflife/platform/internal/shared/events"
	"github.com/rhymesoflife/platform/internal/shared/httputil"
	"github.com/rhymesoflife/platform/internal/shared/i18n"
	"github.com/rhymesoflife/platform/internal/shared/logging"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
	secmiddleware "github.com/rhymesoflife/platform/internal/shared/middleware"
)

const maxRequestBody = 1 << 20

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Cache  *cache.Cache
	Bus    *events.Bus

	closeRedis func() error

	Notifications *notification.Service
	NotifyHandler *notification.Handler
	LinkHandler   *linking.Handler
	PhoneHandler  *phoneotp.Handler
	IngestHandler *ingest.Handler
	Scheduler     *reminder.Scheduler
}

// bootstrap connects to the stores and builds every component. Postgres is
// required; without Redis the process runs on the durable paths only.
func bootstrap(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.DB = db
	if err := database.Migrate(ctx, db.Pool, logger); err != nil {
		db.Close()
		return nil, err
	}

	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis not available, running without cache", zap.Error(err))
	} else {
		app.Cache = cache.New(rdb)
		app.closeRedis = rdb.Close
	}

	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// wire builds the services on top of the connected stores.
func (a *App) wire() error {
	cfg := a.Config
	logger := a.Logger
	translator := i18n.NewTranslator()
	a.Bus = events.NewBus(logger)

	usersBot := telegram.New(telegram.Config{
		Token:    cfg.Telegram.UsersToken,
		Username: cfg.Telegram.Username,
		APIURL:   cfg.Telegram.APIURL,
		Timeout:  cfg.Telegram.Timeout,
	}, a.Cache, logger)

	var chat notification.ChatProvider
	if usersBot.Configured() {
		chat = usersBot
	}
	var mail notification.EmailProvider
	if sender := email.New(email.Config{
		Host:        cfg.Email.Host,
		Port:        cfg.Email.Port,
		Username:    cfg.Email.Username,
		Password:    cfg.Email.Password,
		From:        cfg.Email.From,
		ImplicitTLS: cfg.Email.UseTLS,
		Timeout:     cfg.Email.Timeout,
	}, logger); sender.Configured() {
		mail = sender
	}

	pool := a.DB.Pool
	store := notification.NewPostgresStore(pool)
	a.Notifications = notification.NewService(
		store,
		notification.NewPostgresRecipients(pool),
		chat,
		mail,
		translator,
		notification.ServiceConfig{BaseURL: cfg.Server.BaseURL},
		logger,
	)
	a.NotifyHandler = notification.NewHandler(store, a.Notifications)

	notification.NewSubscriber(a.Notifications, logger).Register(a.Bus)
	staffBot := telegram.New(telegram.Config{
		Token:   cfg.Telegram.StaffToken,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: cfg.Telegram.Timeout,
	}, nil, logger)
	if staffBot.Configured() && len(cfg.Telegram.StaffChatIDs) > 0 {
		notification.NewStaffAlerts(staffBot, cfg.Telegram.StaffChatIDs, cfg.Server.BaseURL, logger).Register(a.Bus)
	}
	a.IngestHandler = ingest.NewHandler(a.Bus, logger)

	var pending linking.PendingStore
	var dedupe reminder.Dedupe
	if a.Cache != nil {
		pending = linking.NewRedisPending(a.Cache)
		dedupe = reminder.NewRedisDedupe(a.Cache, cfg.Reminders.DedupeTTL)
	}

	protocol := linking.NewProtocol(linking.NewPostgresRepository(pool), pending, usersBot, logger)
	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.WebhookRPS, cfg.Server.WebhookBurst)
	a.LinkHandler = linking.NewHandler(protocol, cfg.Telegram.UsersToken, limiter, logger)

	voiceClient := voice.New(voice.Config{
		PublicKey:     cfg.Voice.PublicKey,
		CampaignID:    cfg.Voice.CampaignID,
		InitiateURL:   cfg.Voice.InitiateURL,
		PollingURL:    cfg.Voice.PollingURL,
		StaticGateway: cfg.Voice.StaticGateway,
		Timeout:       cfg.Voice.Timeout,
	}, logger)
	flowCfg := phoneotp.DefaultConfig()
	flowCfg.Cooldown = cfg.Voice.CallCooldown
	flow := phoneotp.NewFlow(profile.NewPostgresRepository(pool), voiceClient, phoneotp.NewClassifier(), a.Cache, flowCfg, logger)
	a.PhoneHandler = phoneotp.NewHandler(flow)

	schedCfg, err := schedulerConfig(cfg.Reminders)
	if err != nil {
		return err
	}
	a.Scheduler = reminder.NewScheduler(reminder.NewPostgresStore(pool), dedupe, a.Notifications, translator, schedCfg, logger)
	return nil
}

// schedulerConfig maps reminder settings onto the scheduler. An unknown
// default timezone is an error rather than a silent UTC fallback.
func schedulerConfig(rc config.ReminderConfig) (reminder.Config, error) {
	loc, err := time.LoadLocation(rc.DefaultTZ)
	if err != nil {
		return reminder.Config{}, fmt.Errorf("REMINDER_DEFAULT_TZ %q: %w", rc.DefaultTZ, err)
	}
	sc := reminder.DefaultConfig()
	sc.Interval = rc.Interval
	sc.DefaultLocation = loc
	sc.BatchSize = rc.BatchLimit
	return sc, nil
}

// Close releases the stores and flushes the logger.
func (a *App) Close() {
	if a.closeRedis != nil {
		if err := a.closeRedis(); err != nil {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logger.Sync()
}

func (a *App) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(a.Logger))
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(a.Config.Server.CORSOrigins))
	r.Use(secmiddleware.MaxBodySize(maxRequestBody))

	r.Get("/health", a.healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	// Telegram authenticates itself with the token in the path.
	r.Mount("/webhook", a.LinkHandler.WebhookRoutes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(auth.Middleware(a.Config.Auth))

		r.Mount("/notifications", a.NotifyHandler.Routes())
		r.Mount("/admin/notifications", a.NotifyHandler.AdminRoutes())
		r.Mount("/events", a.IngestHandler.Routes())
		r.Mount("/telegram", a.LinkHandler.Routes())
		r.Mount("/phone", a.PhoneHandler.Routes())
	})

	return r
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"server": "ready"}
	ready := true

	if err := a.DB.Health(r.Context()); err != nil {
		checks["database"] = "not ready: " + err.Error()
		ready = false
	} else {
		checks["database"] = "ready"
	}

	// Redis is optional; losing it degrades but does not stop the service.
	switch {
	case a.Cache == nil:
		checks["redis"] = "not configured"
	case a.Cache.Ping(r.Context()) != nil:
		checks["redis"] = "degraded"
	default:
		checks["redis"] = "ready"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[ready],
		"checks": checks,
	})
}
