// Package telegram is a minimal Bot API client covering what the platform
// needs: sendMessage, getMe, getUpdates and deleteWebhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/shared/cache"
)

const (
	usernameNamespace = "tg_bot_username"
	usernameTTL       = 24 * time.Hour
	maxErrorBody      = 512
)

// Config holds configuration for one bot.
type Config struct {
	Token string
	// Username skips the getMe lookup when set.
	Username string
	APIURL   string
	Timeout  time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		APIURL:  "https://api.telegram.org",
		Timeout: 7 * time.Second,
	}
}

// Client talks to the Bot API for a single bot token.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *cache.Cache
	logger     *zap.Logger
}

// New creates a client. cache may be nil, in which case BotUsername calls
// getMe every time the username is not configured.
func New(cfg Config, c *cache.Cache, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultConfig().APIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		logger:     logger.Named("telegram"),
	}
}

// Configured reports whether a bot token is set.
func (c *Client) Configured() bool {
	return c.config.Token != ""
}

// Message is an outgoing sendMessage request.
type Message struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	ReplyMarkup           any    `json:"reply_markup,omitempty"`
}

// InlineKeyboard is attached to messages that link back to the site.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// ReplyKeyboard asks the user for input such as their contact card.
type ReplyKeyboard struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

type KeyboardButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

// RemoveKeyboard hides a previously shown reply keyboard.
type RemoveKeyboard struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// LinkButton builds a single-button inline keyboard.
func LinkButton(text, url string) InlineKeyboard {
	return InlineKeyboard{InlineKeyboard: [][]InlineButton{{{Text: text, URL: url}}}}
}

// ContactRequestKeyboard builds a one-time keyboard with a share-contact button.
func ContactRequestKeyboard(text string) ReplyKeyboard {
	return ReplyKeyboard{
		Keyboard:        [][]KeyboardButton{{{Text: text, RequestContact: true}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// APIError is a non-2xx or ok=false answer from the Bot API.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) Unwrap() error {
	return channels.ErrProvider
}

// SendMessage delivers msg. Failures are logged and reported in the Result.
func (c *Client) SendMessage(ctx context.Context, msg Message) channels.Result {
	if !c.Configured() {
		return channels.Failed(channels.ErrNotConfigured)
	}
	if err := c.call(ctx, "sendMessage", msg, nil); err != nil {
		c.logger.Warn("sendMessage failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return channels.Failed(err)
	}
	return channels.Sent()
}

// BotUsername resolves the bot's @username: configuration first, then the
// Redis cache, then getMe (cached for 24h).
func (c *Client) BotUsername(ctx context.Context) (string, error) {
	if c.config.Username != "" {
		return c.config.Username, nil
	}
	if !c.Configured() {
		return "", channels.ErrNotConfigured
	}

	cacheKey := c.tokenID()
	if c.cache != nil {
		if name, err := c.cache.Get(ctx, usernameNamespace, cacheKey); err == nil && name != "" {
			return name, nil
		} else if err != nil && !errors.Is(err, cache.ErrMiss) {
			c.logger.Debug("username cache read failed", zap.Error(err))
		}
	}

	var me struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return "", err
	}
	if me.Username == "" {
		return "", fmt.Errorf("%w: getMe returned no username", channels.ErrProvider)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, usernameNamespace, cacheKey, me.Username, usernameTTL); err != nil {
			c.logger.Debug("username cache write failed", zap.Error(err))
		}
	}
	return me.Username, nil
}

// Update is one raw getUpdates entry. The payload is kept verbatim so the
// relay can forward it untouched.
type Update struct {
	ID  int64
	Raw json.RawMessage
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	if !c.Configured() {
		return nil, channels.ErrNotConfigured
	}
	req := map[string]any{
		"offset":  offset,
		"timeout": timeoutSec,
	}
	var raw []json.RawMessage
	if err := c.callWithTimeout(ctx, "getUpdates", req, &raw, time.Duration(timeoutSec)*time.Second+c.config.Timeout); err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(raw))
	for _, r := range raw {
		var head struct {
			UpdateID int64 `json:"update_id"`
		}
		if err := json.Unmarshal(r, &head); err != nil {
			return nil, fmt.Errorf("%w: malformed update: %v", channels.ErrProvider, err)
		}
		updates = append(updates, Update{ID: head.UpdateID, Raw: r})
	}
	return updates, nil
}

// DeleteWebhook removes any webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	if !c.Configured() {
		return channels.ErrNotConfigured
	}
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil)
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	return c.callWithTimeout(ctx, method, body, out, 0)
}

// callWithTimeout overrides the client timeout when timeout > 0.
func (c *Client) callWithTimeout(ctx context.Context, method string, body, out any, timeout time.Duration) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", method, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.httpClient
	if timeout > 0 {
		client = &http.Client{Timeout: timeout, Transport: c.httpClient.Transport}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", channels.ErrProvider, method, redact(err.Error(), c.config.Token))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %v", channels.ErrProvider, method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: truncate(string(data))}
	}
	if resp.StatusCode != http.StatusOK || !envelope.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: envelope.Description}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%w: decoding %s result: %v", channels.ErrProvider, method, err)
		}
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.config.APIURL, c.config.Token, method)
}

// tokenID is the numeric bot id prefix of the token; it keys the username
// cache without storing the secret part.
func (c *Client) tokenID() string {
	id, _, _ := strings.Cut(c.config.Token, ":")
	return id
}

// redact keeps the bot token out of transport errors, which embed the URL.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
