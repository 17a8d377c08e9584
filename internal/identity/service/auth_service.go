// Package service composes phone normalization, OTP issuance and verification, account
// resolution and token issuance into the four public auth operations.
package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/account"
	accountdomain "phone-otp-auth/backend/internal/account/domain"
	"phone-otp-auth/backend/internal/otp"
	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/security"
	sessiondomain "phone-otp-auth/backend/internal/session/domain"
	sessionservice "phone-otp-auth/backend/internal/session/service"
	"phone-otp-auth/backend/internal/telemetry"
	telemetrydomain "phone-otp-auth/backend/internal/telemetry/domain"
)

// ErrTypeMismatch is returned when a verified challenge was issued for the other flow.
// The challenge has already been consumed at that point.
var ErrTypeMismatch = errors.New("challenge type mismatch")

const instrumentationName = "phone-otp-auth/backend/internal/identity/service"

// FlowStatus is the derived per-phone auth state.
type FlowStatus string

const (
	StatusNoChallenge FlowStatus = "no_challenge"
	StatusPending     FlowStatus = "pending"
	StatusExpired     FlowStatus = "expired"
)

// FlowState is computed from the challenge store and the account store on every call.
type FlowState struct {
	Phone        phone.Number
	Status       FlowStatus
	Type         otpdomain.ChallengeType
	ExpiresAt    time.Time
	AttemptsLeft int
	Account      accountdomain.Resolution
}

// StartAuthRequest is the input to StartAuth. Details are only read for unknown numbers.
type StartAuthRequest struct {
	Phone        string
	Details      *accountdomain.RegistrationDetails
	RateLimitKey string
}

// StartAuthResult tells the client which flow the code belongs to.
type StartAuthResult struct {
	Phone     phone.Number
	Action    accountdomain.Action
	ExpiresAt time.Time
}

// VerifyAuthRequest is the input to VerifyAuth.
type VerifyAuthRequest struct {
	Phone        string
	Code         string
	ExpectedType otpdomain.ChallengeType
}

// AuthResult holds the account and its first token pair.
type AuthResult struct {
	Account    *accountdomain.Account
	Tokens     *sessiondomain.TokenPair
	Registered bool
}

type authMetrics struct {
	otpIssued       metric.Int64Counter
	verifyFailures  metric.Int64Counter
	tokenRotations  metric.Int64Counter
	reuseDetections metric.Int64Counter
}

func newAuthMetrics(meter metric.Meter) authMetrics {
	var m authMetrics
	m.otpIssued, _ = meter.Int64Counter("otp_issued_total",
		metric.WithDescription("OTP challenges stored and handed to the sender"))
	m.verifyFailures, _ = meter.Int64Counter("otp_verify_failures_total",
		metric.WithDescription("Failed OTP verifications by reason"))
	m.tokenRotations, _ = meter.Int64Counter("token_rotations_total",
		metric.WithDescription("Successful refresh token rotations"))
	m.reuseDetections, _ = meter.Int64Counter("refresh_reuse_detected_total",
		metric.WithDescription("Refresh tokens presented after use; each revokes a chain"))
	return m
}

// AuthService is the auth flow orchestrator.
type AuthService struct {
	normalizer phone.Normalizer
	store      *otp.Store
	issuer     *otp.Issuer
	accounts   *account.Resolver
	tokens     *sessionservice.TokenService
	events     telemetry.EventEmitter
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    authMetrics
}

// NewAuthService returns an AuthService. events and logger may be nil.
// Spans and counters go to the global OTel providers.
func NewAuthService(
	normalizer phone.Normalizer,
	store *otp.Store,
	issuer *otp.Issuer,
	accounts *account.Resolver,
	tokens *sessionservice.TokenService,
	events telemetry.EventEmitter,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		normalizer: normalizer,
		store:      store,
		issuer:     issuer,
		accounts:   accounts,
		tokens:     tokens,
		events:     events,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		metrics:    newAuthMetrics(otel.Meter(instrumentationName)),
	}
}

// StartAuth decides login or register for the phone and issues a code for that flow.
// When only delivery failed, the result is returned together with an error wrapping otp.ErrSendFailed.
func (s *AuthService) StartAuth(ctx context.Context, req StartAuthRequest) (res *StartAuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.StartAuth")
	defer func() { endSpan(span, err) }()

	p, err := s.normalizer.Normalize(req.Phone)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("phone.masked", phone.Mask(p)))
	action, err := s.accounts.BeginAuth(ctx, p, req.Details)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.action", string(action)))

	c, err := s.issuer.Issue(ctx, otp.IssueRequest{
		Phone:        p,
		Type:         otpdomain.ChallengeType(action),
		RateLimitKey: req.RateLimitKey,
	})
	if c == nil {
		return nil, err
	}
	res = &StartAuthResult{Phone: p, Action: action, ExpiresAt: c.ExpiresAt}
	if err != nil {
		s.emit(ctx, telemetrydomain.EventOTPSendFailed, p, "", err.Error(), map[string]string{"type": string(action)})
		return res, err
	}
	s.metrics.otpIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(action))))
	s.emit(ctx, telemetrydomain.EventOTPIssued, p, "", "", map[string]string{"type": string(action)})
	return res, nil
}

// VerifyAuth checks the code, completes login or registration and issues the first token pair.
func (s *AuthService) VerifyAuth(ctx context.Context, req VerifyAuthRequest) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.VerifyAuth")
	defer func() { endSpan(span, err) }()

	p, err := s.normalizer.Normalize(req.Phone)
	if err != nil {
		return nil, err
	}
	if !req.ExpectedType.Valid() {
		return nil, otp.ErrInvalidType
	}
	typ, err := s.store.Verify(ctx, p, req.Code)
	if err != nil {
		s.verifyFailed(ctx, p, err)
		return nil, err
	}
	var details *accountdomain.RegistrationDetails
	if typ == otpdomain.ChallengeRegister {
		details, err = s.accounts.TakeStaged(ctx, p)
		if err != nil {
			return nil, err
		}
	}
	if typ != req.ExpectedType {
		s.verifyFailed(ctx, p, ErrTypeMismatch)
		return nil, ErrTypeMismatch
	}

	a, err := s.accounts.CompleteAuth(ctx, p, accountdomain.Action(typ), details)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(ctx, a)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", a.ID))

	registered := typ == otpdomain.ChallengeRegister
	s.emit(ctx, telemetrydomain.EventOTPVerified, p, a.ID, "", map[string]string{"type": string(typ)})
	if registered {
		s.emit(ctx, telemetrydomain.EventAccountRegistered, p, a.ID, "", nil)
	}
	return &AuthResult{Account: a, Tokens: pair, Registered: registered}, nil
}

// RefreshSession rotates a refresh token. Reuse revokes the whole chain and returns sessionservice.ErrReused.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string) (pair *sessiondomain.TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.RefreshSession")
	defer func() { endSpan(span, err) }()

	pair, err = s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sessionservice.ErrReused) {
			s.metrics.reuseDetections.Add(ctx, 1)
			s.emit(ctx, telemetrydomain.EventRefreshReuseDetected, "", "", "chain revoked", nil)
		}
		s.logger.Info("refresh rejected", zap.Error(err))
		return nil, err
	}
	s.metrics.tokenRotations.Add(ctx, 1)
	s.emit(ctx, telemetrydomain.EventSessionRotated, "", "", "", nil)
	return pair, nil
}

// Logout revokes the refresh token's chain. Tokens that do not validate are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil
	}
	err = s.tokens.Revoke(ctx, refreshToken)
	switch {
	case err == nil:
		s.emit(ctx, telemetrydomain.EventSessionRevoked, "", "", "logout", nil)
		return nil
	case errors.Is(err, security.ErrInvalidToken), errors.Is(err, security.ErrTokenExpired), errors.Is(err, security.ErrWrongTokenType):
		return nil
	default:
		return err
	}
}

// State derives the flow state for a phone from the stored challenge and account.
func (s *AuthService) State(ctx context.Context, rawPhone string) (*FlowState, error) {
	p, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	res, err := s.accounts.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	st := &FlowState{Phone: p, Status: StatusNoChallenge, Account: res}
	c, err := s.store.Peek(ctx, p)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return st, nil
	}
	st.Type = c.Type
	st.ExpiresAt = c.ExpiresAt
	if c.Expired(s.store.Now()) {
		st.Status = StatusExpired
		return st, nil
	}
	st.Status = StatusPending
	st.AttemptsLeft = c.AttemptsLeft
	return st, nil
}

func (s *AuthService) verifyFailed(ctx context.Context, p phone.Number, err error) {
	reason := VerifyFailureReason(err)
	s.metrics.verifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	s.logger.Info("otp verification failed", zap.String("phone", phone.Mask(p)), zap.String("reason", reason))
	s.emit(ctx, telemetrydomain.EventOTPVerifyFailed, p, "", reason, nil)
}

// VerifyFailureReason names the precise verification failure for logs and metrics.
// It must never be shown to end users.
func VerifyFailureReason(err error) string {
	switch {
	case errors.Is(err, otp.ErrAttemptsExhausted):
		return "attempts_exhausted"
	case errors.Is(err, otp.ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, otp.ErrExpired):
		return "expired"
	case errors.Is(err, otp.ErrNoChallenge):
		return "no_challenge"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	default:
		return "error"
	}
}

func (s *AuthService) emit(ctx context.Context, typ telemetrydomain.EventType, p phone.Number, accountID, reason string, meta map[string]string) {
	if s.events == nil {
		return
	}
	ev := telemetry.NewEvent(typ)
	if p != "" {
		ev.Phone = phone.Mask(p)
	}
	ev.AccountID = accountID
	ev.Reason = reason
	ev.Metadata = meta
	telemetry.EmitAsync(s.events, ctx, ev)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
