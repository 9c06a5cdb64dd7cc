package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/relay"
	"github.com/rhymesoflife/platform/internal/shared/config"
	"github.com/rhymesoflife/platform/internal/shared/database"
	"github.com/rhymesoflife/platform/internal/shared/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "platform",
		Short:         "Patient notifications, Telegram linking, phone verification and reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var withReminders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (API and Telegram webhook)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			app, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return app.serveHTTP(gctx) })
			if withReminders {
				g.Go(func() error { return app.runReminders(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withReminders, "with-reminders", false, "also run the reminder scheduler in this process")
	return cmd
}

func remindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reminders",
		Short: "Run the daily reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			app, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.runReminders(ctx)
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Long-poll the users bot and forward updates to the webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.Telegram.UsersToken == "" {
				return errors.New("TELEGRAM_BOT_TOKEN_USERS is not set")
			}

			bot := telegram.New(telegram.Config{
				Token:   cfg.Telegram.UsersToken,
				APIURL:  cfg.Telegram.APIURL,
				Timeout: cfg.Telegram.Timeout,
			}, nil, logger)

			forwardURL := cfg.Relay.ForwardURL
			if forwardURL == "" {
				forwardURL = fmt.Sprintf("http://127.0.0.1:%d/webhook/%s/", cfg.Server.Port, cfg.Telegram.UsersToken)
			}

			rc := relay.DefaultConfig()
			rc.ForwardURL = forwardURL
			rc.Token = cfg.Telegram.UsersToken
			rc.PollTimeout = cfg.Relay.PollTimeout
			return relay.New(bot, rc, logger).Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(ctx, db.Pool, logger)
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveHTTP runs the server until ctx ends, then drains for up to 30s.
func (a *App) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening",
			zap.Int("port", a.Config.Server.Port),
			zap.String("env", a.Config.Server.Env),
			zap.Bool("telegram", a.Config.Telegram.UsersToken != ""),
			zap.Bool("email", a.Config.Email.Host != ""),
			zap.Bool("redis", a.Cache != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.Logger.Info("server stopped")
	return nil
}

// runReminders runs the scheduler until ctx ends.
func (a *App) runReminders(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}
