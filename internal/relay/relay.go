// Package relay long-polls the bot API and forwards every update to the
// webhook endpoint, for deployments where Telegram cannot reach the site.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
)

// Source delivers bot updates. *telegram.Client implements it.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
	DeleteWebhook(ctx context.Context, dropPending bool) error
}

// Config holds relay settings
type Config struct {
	// ForwardURL is the webhook URL updates are posted to.
	ForwardURL string
	// Token is the bot token; used only to check ForwardURL.
	Token          string
	PollTimeout    int
	ForwardTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PollTimeout:    50,
		ForwardTimeout: 10 * time.Second,
		MinBackoff:     3 * time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// Relay moves updates from Source to ForwardURL.
type Relay struct {
	source     Source
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a relay
func New(source Source, cfg Config, logger *zap.Logger) *Relay {
	def := DefaultConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = def.ForwardTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.MinBackoff)
	}
	return &Relay{
		source:     source,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.ForwardTimeout},
		logger:     logger.Named("relay"),
	}
}

// Run polls until ctx is cancelled. Polling errors back off exponentially
// from MinBackoff to MaxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if r.config.ForwardURL == "" {
		return errors.New("relay: forward URL is empty")
	}
	if tok := tokenInURL(r.config.ForwardURL); tok != "" && r.config.Token != "" && tok != r.config.Token {
		r.logger.Error("forward URL token does not match the bot token, the webhook will answer 403")
	}

	if err := r.source.DeleteWebhook(ctx, true); err != nil {
		r.logger.Warn("failed to remove webhook, continuing", zap.Error(err))
	}
	r.logger.Info("relay started", zap.String("endpoint", redactURL(r.config.ForwardURL, r.config.Token)))

	var offset int64
	backoff := r.config.MinBackoff
	for {
		if ctx.Err() != nil {
			r.logger.Info("relay stopped")
			return nil
		}

		updates, err := r.source.GetUpdates(ctx, offset, r.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Error("polling failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				continue
			}
			backoff = min(backoff*2, r.config.MaxBackoff)
			continue
		}
		backoff = r.config.MinBackoff

		for _, u := range updates {
			r.Forward(ctx, u)
			offset = u.ID + 1
		}
	}
}

// Forward posts one update and returns the webhook's status code, or 0 when
// the request did not complete.
func (r *Relay) Forward(ctx context.Context, u telegram.Update) int {
	log := r.logger.With(zap.Int64("update_id", u.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.ForwardURL, bytes.NewReader(u.Raw))
	if err != nil {
		log.Error("failed to build forward request", zap.Error(err))
		metrics.RecordRelayForward("error")
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Error("forward failed", zap.Error(err))
		metrics.RecordRelayForward("error")
		return 0
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))

	metrics.RecordRelayForward(strconv.Itoa(resp.StatusCode/100) + "xx")
	switch {
	case resp.StatusCode == http.StatusOK:
		log.Debug("update forwarded", zap.String("summary", summarize(u.Raw)))
	case resp.StatusCode == http.StatusForbidden:
		log.Error("webhook answered 403, token mismatch?")
	case resp.StatusCode == http.StatusNotFound:
		log.Error("webhook answered 404, check the forward URL path")
	case resp.StatusCode >= 500:
		log.Error("webhook server error", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
	default:
		log.Warn("unexpected webhook answer", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
	}
	return resp.StatusCode
}

// summarize describes an update for logs without its full text.
func summarize(raw json.RawMessage) string {
	var u struct {
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
			Text    string          `json:"text"`
			Contact json.RawMessage `json:"contact"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &u); err != nil || u.Message == nil {
		return "non-message update"
	}
	text := strings.ReplaceAll(u.Message.Text, "\n", " ")
	if r := []rune(text); len(r) > 120 {
		text = string(r[:117]) + "..."
	}
	return fmt.Sprintf("chat=%d text=%q contact=%t", u.Message.Chat.ID, text, len(u.Message.Contact) > 0)
}

// tokenInURL extracts the path segment after "/webhook/".
func tokenInURL(u string) string {
	_, rest, ok := strings.Cut(u, "/webhook/")
	if !ok {
		return ""
	}
	tok, _, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	return tok
}

func redactURL(u, token string) string {
	if token == "" {
		return u
	}
	return strings.ReplaceAll(u, token, "<token>")
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
