// Package voice is the client for the flash-call OTP provider: the user
// receives a call whose caller ID ends in the PIN.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
)

const maxErrorBody = 512

// Config holds provider credentials and endpoints.
type Config struct {
	PublicKey   string
	CampaignID  string
	InitiateURL string
	PollingURL  string
	// StaticGateway is shown to the user when the provider does not name the calling number.
	StaticGateway string
	Timeout       time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Timeout: 15 * time.Second}
}

// Client calls the provider's initiate and poll endpoints.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new provider client
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("voice"),
	}
}

// InitiateResult is what the user needs to complete the call.
type InitiateResult struct {
	// CallNumber is the number the user should expect the call from.
	CallNumber string
	// TrackingID is the provider call id, empty when not supplied.
	TrackingID string
	Raw        map[string]any
}

// PollResult carries the provider's free-text dial status.
type PollResult struct {
	Status string
	Raw    map[string]any
}

// Initiate asks the provider to place a call to phone carrying pin.
// phone must already be normalized (digits only, country code first).
func (c *Client) Initiate(ctx context.Context, phone, pin string) (*InitiateResult, error) {
	if c.config.InitiateURL == "" || c.config.PublicKey == "" || c.config.CampaignID == "" {
		return nil, channels.ErrNotConfigured
	}

	form := url.Values{
		"public_key":  {c.config.PublicKey},
		"campaign_id": {c.config.CampaignID},
		"phone":       {phone},
		"pincode":     {pin},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.InitiateURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := c.do(req)
	if err != nil {
		c.logger.Warn("initiate failed", zap.String("phone", maskPhone(phone)), zap.Error(err))
		return nil, err
	}

	callNumber := firstString(data, "call_number", "gateway_number", "phone_number")
	if callNumber == "" {
		callNumber = c.config.StaticGateway
	}
	return &InitiateResult{
		CallNumber: callNumber,
		TrackingID: firstString(data, "call_id", "tracking_id"),
		Raw:        data,
	}, nil
}

// Poll fetches the latest call status for phone. trackingID narrows the
// lookup when the provider returned one.
func (c *Client) Poll(ctx context.Context, phone, trackingID string) (*PollResult, error) {
	if c.config.PollingURL == "" || c.config.PublicKey == "" {
		return nil, channels.ErrNotConfigured
	}

	q := url.Values{
		"public_key":  {c.config.PublicKey},
		"campaign_id": {c.config.CampaignID},
		"phone":       {phone},
	}
	if trackingID != "" {
		q.Set("tracking_id", trackingID)
	}

	u, err := url.Parse(c.config.PollingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid polling url: %v", channels.ErrNotConfigured, err)
	}
	existing := u.Query()
	for k, v := range q {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}

	data, err := c.do(req)
	if err != nil {
		c.logger.Warn("poll failed", zap.String("phone", maskPhone(phone)), zap.Error(err))
		return nil, err
	}

	return &PollResult{
		Status: firstString(data, "dial_status_display", "dial_status"),
		Raw:    data,
	}, nil
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channels.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", channels.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", channels.ErrProvider, resp.StatusCode, truncate(string(body)))
	}
	return decodeObject(body), nil
}

// decodeObject accepts either an object or a list of objects (the first
// element is used). Anything unparsable yields an empty map.
func decodeObject(body []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil && obj != nil {
		return obj
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 && list[0] != nil {
		return list[0]
	}
	return map[string]any{}
}

// firstString returns the first non-empty value among keys, formatting numbers as integers.
func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// maskPhone keeps the last four digits for log correlation.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// IsNotConfigured reports whether err came from missing provider settings.
func IsNotConfigured(err error) bool {
	return errors.Is(err, channels.ErrNotConfigured)
}
