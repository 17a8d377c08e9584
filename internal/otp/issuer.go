package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/ratelimit"
)

var (
	// ErrSendFailed is returned when delivery failed. The challenge was stored and stays valid.
	ErrSendFailed = errors.New("otp delivery failed")
	// ErrIssuanceDenied is returned when the issuance policy rejects the request.
	ErrIssuanceDenied = errors.New("otp issuance denied by policy")
)

const (
	ScopePhone   = "phone"
	ScopeAddress = "address"

	defaultSendTimeout = 5 * time.Second
)

// Sender delivers a code to a phone. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, p phone.Number, code string) error
}

// PolicyChecker decides whether a code may be issued at all.
type PolicyChecker interface {
	AllowIssue(ctx context.Context, p phone.Number, typ domain.ChallengeType, rateLimitKey string) (bool, error)
}

// IssueRequest is the input to Issuer.Issue.
type IssueRequest struct {
	Phone phone.Number
	Type  domain.ChallengeType
	// RateLimitKey is an optional secondary throttle key, typically the client address.
	RateLimitKey string
}

// IssuerConfig holds issuance limits.
type IssuerConfig struct {
	PhoneRule   ratelimit.Rule
	AddressRule ratelimit.Rule
	SendTimeout time.Duration
}

// Issuer rate limits, stores and delivers codes.
type Issuer struct {
	store   *Store
	limiter ratelimit.Limiter
	sender  Sender
	policy  PolicyChecker
	cfg     IssuerConfig
	logger  *zap.Logger
}

// NewIssuer returns an Issuer. policy may be nil (always allow); logger may be nil.
func NewIssuer(store *Store, limiter ratelimit.Limiter, sender Sender, policy PolicyChecker, cfg IssuerConfig, logger *zap.Logger) *Issuer {
	if cfg.PhoneRule.Limit == 0 {
		cfg.PhoneRule = ratelimit.Rule{Limit: 3, Window: 10 * time.Minute}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{store: store, limiter: limiter, sender: sender, policy: policy, cfg: cfg, logger: logger}
}

// Issue checks policy and limits, stores a new challenge and sends the code.
// When delivery fails the stored challenge is returned together with an error wrapping ErrSendFailed.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*domain.Challenge, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidType
	}
	masked := phone.Mask(req.Phone)
	if i.policy != nil {
		allowed, err := i.policy.AllowIssue(ctx, req.Phone, req.Type, req.RateLimitKey)
		switch {
		case err != nil:
			i.logger.Warn("issuance policy evaluation failed, allowing", zap.String("phone", masked), zap.Error(err))
		case !allowed:
			return nil, ErrIssuanceDenied
		}
	}
	// The address counter goes first: a request refused for its address must not
	// use up the phone's issuance budget.
	if req.RateLimitKey != "" && i.cfg.AddressRule.Limit > 0 {
		if err := ratelimit.Check(ctx, i.limiter, ScopeAddress, "otp:addr:"+req.RateLimitKey, i.cfg.AddressRule); err != nil {
			return nil, err
		}
	}
	if err := ratelimit.Check(ctx, i.limiter, ScopePhone, "otp:phone:"+req.Phone.String(), i.cfg.PhoneRule); err != nil {
		return nil, err
	}

	c, code, err := i.store.Put(ctx, req.Phone, req.Type)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, i.cfg.SendTimeout)
	defer cancel()
	if err := i.sender.Send(sendCtx, req.Phone, code); err != nil {
		i.logger.Warn("otp send failed", zap.String("phone", masked), zap.String("type", string(req.Type)), zap.Error(err))
		return c, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	i.logger.Info("otp issued", zap.String("phone", masked), zap.String("type", string(req.Type)), zap.Time("expires_at", c.ExpiresAt))
	return c, nil
}
