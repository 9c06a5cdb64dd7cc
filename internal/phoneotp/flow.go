package phoneotp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels/voice"
	"github.com/rhymesoflife/platform/internal/profile"
	"github.com/rhymesoflife/platform/internal/shared/cache"
	apperrors "github.com/rhymesoflife/platform/internal/shared/errors"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
)

const cooldownNamespace = "phone_call"

// Client status values returned by CheckStatus.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusDone    = "done"
	StatusError   = "error"
)

// Profiles is the profile storage the flow needs. *profile.PostgresRepository implements it.
type Profiles interface {
	Get(ctx context.Context, id int64) (*profile.Profile, error)
	StartPhoneVerification(ctx context.Context, id int64, phone, trackingID string) error
	AdvancePhoneStatus(ctx context.Context, id int64, to profile.PhoneStatus) error
	ResetPhone(ctx context.Context, id int64) error
}

// Provider places and tracks flash calls. *voice.Client implements it.
type Provider interface {
	Initiate(ctx context.Context, phone, pin string) (*voice.InitiateResult, error)
	Poll(ctx context.Context, phone, trackingID string) (*voice.PollResult, error)
}

// Config holds flow settings
type Config struct {
	// Cooldown is the minimum time between two calls to the same number.
	Cooldown time.Duration
	// NextURL is where the client goes once the phone is verified.
	NextURL string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Cooldown: 60 * time.Second, NextURL: "/consents/"}
}

// CallSession is returned to the client after a call was placed.
type CallSession struct {
	Phone      string `json:"phone"`
	CallNumber string `json:"call_number"`
	TrackingID string `json:"-"`
}

// PollResult is a classified provider status.
type PollResult struct {
	Verified  bool
	Failed    bool
	RawStatus string
}

// StatusResponse is the body of the status endpoint. HTTPStatus is the
// code to answer with.
type StatusResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Next       string `json:"next,omitempty"`
	DialStatus string `json:"dial_status,omitempty"`
	HTTPStatus int    `json:"-"`
}

// Flow runs phone verification by flash call.
type Flow struct {
	profiles   Profiles
	provider   Provider
	classifier *Classifier
	cooldown   *cache.Cache
	config     Config
	logger     *zap.Logger
}

// NewFlow creates the flow. cooldown may be nil to disable the per-phone limit.
func NewFlow(profiles Profiles, provider Provider, classifier *Classifier, cooldown *cache.Cache, cfg Config, logger *zap.Logger) *Flow {
	if classifier == nil {
		classifier = NewClassifier()
	}
	if cfg.NextURL == "" {
		cfg.NextURL = DefaultConfig().NextURL
	}
	return &Flow{
		profiles:   profiles,
		provider:   provider,
		classifier: classifier,
		cooldown:   cooldown,
		config:     cfg,
		logger:     logger.Named("phoneotp"),
	}
}

// InitiateCall places a verification call to rawPhone and moves the
// profile to calling.
func (f *Flow) InitiateCall(ctx context.Context, profileID int64, rawPhone string) (*CallSession, error) {
	digits := NormalizePhone(rawPhone)
	if digits == "" {
		return nil, apperrors.BadRequest("enter phone number")
	}
	if len(digits) < 10 || len(digits) > 15 {
		return nil, apperrors.Validation("invalid phone number", map[string]string{"phone": "e164"})
	}

	p, err := f.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p.PhoneVerified {
		return nil, apperrors.Conflict("phone already verified")
	}

	if err := f.acquireCooldown(ctx, digits); err != nil {
		return nil, err
	}

	pin, err := newPIN()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	res, err := f.provider.Initiate(ctx, digits, pin)
	if err != nil {
		f.releaseCooldown(ctx, digits)
		metrics.RecordPhoneVerification("provider_error")
		f.logger.Warn("verification call failed", zap.Int64("profile_id", profileID), zap.Bool("not_configured", voice.IsNotConfigured(err)), zap.Error(err))
		return nil, apperrors.Upstream("voice", err)
	}

	phone := "+" + digits
	if err := f.profiles.StartPhoneVerification(ctx, profileID, phone, res.TrackingID); err != nil {
		if errors.Is(err, profile.ErrInvalidTransition) {
			return nil, apperrors.Conflict("phone already verified")
		}
		return nil, err
	}

	metrics.RecordPhoneVerification("initiated")
	f.logger.Info("verification call placed", zap.Int64("profile_id", profileID), zap.Bool("tracked", res.TrackingID != ""))
	return &CallSession{Phone: phone, CallNumber: res.CallNumber, TrackingID: res.TrackingID}, nil
}

// PollStatus asks the provider about the last call to phone.
func (f *Flow) PollStatus(ctx context.Context, phone, trackingID string) (*PollResult, error) {
	res, err := f.provider.Poll(ctx, NormalizePhone(phone), trackingID)
	if err != nil {
		return nil, err
	}
	verdict := f.classifier.Classify(res.Status)
	return &PollResult{
		Verified:  verdict == Verified,
		Failed:    verdict == Failed,
		RawStatus: res.Status,
	}, nil
}

// CheckStatus reports the verification state of profileID, polling the
// provider while a call is in progress. Only storage failures are returned
// as errors.
func (f *Flow) CheckStatus(ctx context.Context, profileID int64) (*StatusResponse, error) {
	p, err := f.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Phone == "":
		return &StatusResponse{Status: StatusError, Message: "No phone number set.", HTTPStatus: http.StatusBadRequest}, nil
	case p.PhoneVerified:
		return &StatusResponse{Status: StatusDone, Next: f.config.NextURL, HTTPStatus: http.StatusOK}, nil
	case p.PhoneStatus == profile.PhoneFailed:
		return &StatusResponse{Status: StatusError, Message: "Call failed. Request a new call.", HTTPStatus: http.StatusOK}, nil
	case p.PhoneStatus != profile.PhoneCalling:
		return &StatusResponse{Status: StatusError, Message: "No call in progress.", HTTPStatus: http.StatusBadRequest}, nil
	}

	poll, err := f.PollStatus(ctx, p.Phone, p.PhoneTrackingID)
	if err != nil {
		metrics.RecordPhoneVerification("provider_error")
		f.logger.Warn("status poll failed", zap.Int64("profile_id", profileID), zap.Error(err))
		return &StatusResponse{Status: StatusError, Message: "Provider error", HTTPStatus: http.StatusBadGateway}, nil
	}

	switch {
	case poll.Verified:
		if err := f.advance(ctx, profileID, profile.PhoneVerified); err != nil {
			return nil, err
		}
		metrics.RecordPhoneVerification("verified")
		return &StatusResponse{Status: StatusSuccess, Next: f.config.NextURL, HTTPStatus: http.StatusOK}, nil
	case poll.Failed:
		if err := f.advance(ctx, profileID, profile.PhoneFailed); err != nil {
			return nil, err
		}
		metrics.RecordPhoneVerification("failed")
		return &StatusResponse{Status: StatusError, Message: "Call failed. Request a new call.", DialStatus: poll.RawStatus, HTTPStatus: http.StatusOK}, nil
	default:
		return &StatusResponse{Status: StatusPending, DialStatus: poll.RawStatus, HTTPStatus: http.StatusOK}, nil
	}
}

// ChangePhone clears the phone so a different number can be verified.
func (f *Flow) ChangePhone(ctx context.Context, profileID int64) error {
	if err := f.profiles.ResetPhone(ctx, profileID); err != nil {
		return err
	}
	f.logger.Info("phone reset", zap.Int64("profile_id", profileID))
	return nil
}

// advance resolves the call. A concurrent poll may have resolved it first,
// which is not an error.
func (f *Flow) advance(ctx context.Context, profileID int64, to profile.PhoneStatus) error {
	err := f.profiles.AdvancePhoneStatus(ctx, profileID, to)
	if errors.Is(err, profile.ErrInvalidTransition) {
		f.logger.Debug("phone status already resolved", zap.Int64("profile_id", profileID), zap.String("to", string(to)))
		return nil
	}
	return err
}

func (f *Flow) acquireCooldown(ctx context.Context, digits string) error {
	if f.cooldown == nil || f.config.Cooldown <= 0 {
		return nil
	}
	ok, err := f.cooldown.SetNX(ctx, cooldownNamespace, digits, "1", f.config.Cooldown)
	if err != nil {
		f.logger.Warn("call cooldown unavailable", zap.Error(err))
		return nil
	}
	if ok {
		return nil
	}

	wait := f.config.Cooldown
	if ttl, err := f.cooldown.TTL(ctx, cooldownNamespace, digits); err == nil && ttl > 0 {
		wait = ttl
	}
	metrics.RecordPhoneVerification("cooldown")
	secs := int((wait + time.Second - 1) / time.Second)
	return apperrors.TooManyRequests(fmt.Sprintf("a call was just placed, retry in %ds", secs), secs)
}

func (f *Flow) releaseCooldown(ctx context.Context, digits string) {
	if f.cooldown == nil {
		return
	}
	if err := f.cooldown.Delete(ctx, cooldownNamespace, digits); err != nil {
		f.logger.Debug("call cooldown release failed", zap.Error(err))
	}
}

// newPIN returns a uniformly random 4-digit PIN.
func newPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()+1000), nil
}
