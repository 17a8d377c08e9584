package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-otp-auth/backend/internal/account"
	accountdomain "phone-otp-auth/backend/internal/account/domain"
	accountrepo "phone-otp-auth/backend/internal/account/repository"
	"phone-otp-auth/backend/internal/otp"
	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	otprepo "phone-otp-auth/backend/internal/otp/repository"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/ratelimit"
	"phone-otp-auth/backend/internal/security"
	sessionrepo "phone-otp-auth/backend/internal/session/repository"
	sessionservice "phone-otp-auth/backend/internal/session/service"
	telemetrydomain "phone-otp-auth/backend/internal/telemetry/domain"
)

const testPhone = "+15551234567"

type recordingSender struct {
	mu    sync.Mutex
	codes map[phone.Number]string
	err   error
}

func (s *recordingSender) Send(ctx context.Context, p phone.Number, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[p] = code
	return s.err
}

func (s *recordingSender) code(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone.Number(p)]
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*telemetrydomain.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, ev *telemetrydomain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) has(typ telemetrydomain.EventType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

type harness struct {
	svc      *AuthService
	store    *otp.Store
	sender   *recordingSender
	events   *recordingEmitter
	profiles *accountrepo.MemoryProfileRepository
	accounts *accountrepo.MemoryRepository
	now      time.Time
}

func (h *harness) clock() time.Time { return h.now }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		sender:   &recordingSender{codes: make(map[phone.Number]string)},
		events:   &recordingEmitter{},
		profiles: accountrepo.NewMemoryProfileRepository(),
		accounts: accountrepo.NewMemoryRepository(),
	}
	h.store = otp.NewStore(otprepo.NewMemoryRepository(), otp.NewHasher([]byte("test-pepper")), otp.DefaultOptions())
	h.store.SetClock(h.clock)
	limiter := ratelimit.NewMemoryLimiter()
	limiter.SetClock(h.clock)
	issuer := otp.NewIssuer(h.store, limiter, h.sender, nil, otp.IssuerConfig{
		PhoneRule:   ratelimit.Rule{Limit: 3, Window: 10 * time.Minute},
		AddressRule: ratelimit.Rule{Limit: 20, Window: time.Hour},
	}, nil)
	staging := accountrepo.NewMemoryStagingRepository()
	staging.SetClock(h.clock)
	resolver := account.NewResolver(h.accounts, h.profiles, staging, h.store.TTL(), nil)
	resolver.SetClock(h.clock)

	tp, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	tokens := sessionservice.NewTokenService(sessionrepo.NewMemoryRepository(), tp, nil)

	h.svc = NewAuthService(phone.Normalizer{}, h.store, issuer, resolver, tokens, h.events, nil)
	return h
}

func details() *accountdomain.RegistrationDetails {
	return &accountdomain.RegistrationDetails{BusinessName: "Corner Shop", OwnerName: "Sam Lee"}
}

func (h *harness) register(t *testing.T) *AuthResult {
	t.Helper()
	ctx := context.Background()
	start, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	require.Equal(t, accountdomain.ActionRegister, start.Action)
	res, err := h.svc.VerifyAuth(ctx, VerifyAuthRequest{
		Phone:        testPhone,
		Code:         h.sender.code(testPhone),
		ExpectedType: otpdomain.ChallengeRegister,
	})
	require.NoError(t, err)
	return res
}

func TestRegisterVerifyRefresh_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	start, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: "+1 (555) 123-4567", Details: details()})
	require.NoError(t, err)
	assert.Equal(t, accountdomain.ActionRegister, start.Action)
	assert.Equal(t, phone.Number(testPhone), start.Phone)
	assert.Equal(t, h.now.Add(5*time.Minute), start.ExpiresAt)

	res, err := h.svc.VerifyAuth(ctx, VerifyAuthRequest{
		Phone:        testPhone,
		Code:         h.sender.code(testPhone),
		ExpectedType: otpdomain.ChallengeRegister,
	})
	require.NoError(t, err)
	assert.True(t, res.Registered)
	assert.True(t, res.Account.Verified)
	assert.Equal(t, testPhone, res.Account.Phone)
	require.NotNil(t, res.Tokens)
	stored, _ := h.profiles.Details(testPhone)
	assert.Equal(t, "Corner Shop", stored.BusinessName)

	next, err := h.svc.RefreshSession(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.RefreshToken, next.RefreshToken)

	_, err = h.svc.RefreshSession(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, sessionservice.ErrReused)
	_, err = h.svc.RefreshSession(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, sessionservice.ErrRevoked, "reuse revokes the whole chain")

	require.Eventually(t, func() bool {
		return h.events.has(telemetrydomain.EventOTPIssued) &&
			h.events.has(telemetrydomain.EventAccountRegistered) &&
			h.events.has(telemetrydomain.EventRefreshReuseDetected)
	}, time.Second, 10*time.Millisecond)
}

func TestStartAuth_ExistingAccountLogsIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.register(t)

	start, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	assert.Equal(t, accountdomain.ActionLogin, start.Action)

	res, err := h.svc.VerifyAuth(ctx, VerifyAuthRequest{
		Phone:        testPhone,
		Code:         h.sender.code(testPhone),
		ExpectedType: otpdomain.ChallengeLogin,
	})
	require.NoError(t, err)
	assert.False(t, res.Registered)
	assert.Equal(t, first.Account.ID, res.Account.ID)
}

func TestStartAuth_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: "12ab"})
	assert.ErrorIs(t, err, phone.ErrInvalidPhoneFormat)

	_, err = h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone})
	assert.ErrorIs(t, err, account.ErrRegistrationDetailsRequired)

	_, err = h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: &accountdomain.RegistrationDetails{BusinessName: " "}})
	assert.ErrorIs(t, err, account.ErrInvalidRegistrationDetails)

	assert.Empty(t, h.sender.code(testPhone), "no code is sent for rejected requests")
}

func TestStartAuth_RateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
		require.NoError(t, err)
	}
	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)
	var rl *ratelimit.Error
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 10*time.Minute, rl.RetryAfter)
}

func TestStartAuth_SendFailureKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sender.fail(errors.New("gateway down"))

	start, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.ErrorIs(t, err, otp.ErrSendFailed)
	require.NotNil(t, start)
	assert.Equal(t, accountdomain.ActionRegister, start.Action)

	st, err := h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{
		Phone:        testPhone,
		Code:         h.sender.code(testPhone),
		ExpectedType: otpdomain.ChallengeRegister,
	})
	assert.NoError(t, err, "challenge written before the failed send stays valid")
}

func TestVerifyAuth_TypeMismatchConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	code := h.sender.code(testPhone)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: code, ExpectedType: otpdomain.ChallengeLogin})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: code, ExpectedType: otpdomain.ChallengeRegister})
	assert.ErrorIs(t, err, otp.ErrNoChallenge)

	st, err := h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, st.Account.Exists, "no account is created on mismatch")
}

func TestVerifyAuth_InvalidExpectedTypeKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: h.sender.code(testPhone), ExpectedType: "signup"})
	assert.ErrorIs(t, err, otp.ErrInvalidType)

	st, err := h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
}

func TestVerifyAuth_ExhaustedThenNoChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	code := h.sender.code(testPhone)
	wrong := strings.Repeat("0", len(code))
	if wrong == code {
		wrong = strings.Repeat("1", len(code))
	}

	for i := 0; i < 4; i++ {
		_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: wrong, ExpectedType: otpdomain.ChallengeRegister})
		require.ErrorIs(t, err, otp.ErrCodeMismatch)
		require.NotErrorIs(t, err, otp.ErrAttemptsExhausted)
	}
	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: wrong, ExpectedType: otpdomain.ChallengeRegister})
	require.ErrorIs(t, err, otp.ErrAttemptsExhausted)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: code, ExpectedType: otpdomain.ChallengeRegister})
	assert.ErrorIs(t, err, otp.ErrNoChallenge)

	require.Eventually(t, func() bool { return h.events.has(telemetrydomain.EventOTPVerifyFailed) }, time.Second, 10*time.Millisecond)
}

func TestVerifyAuth_Expired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	h.now = h.now.Add(5*time.Minute + time.Second)

	_, err = h.svc.VerifyAuth(ctx, VerifyAuthRequest{Phone: testPhone, Code: h.sender.code(testPhone), ExpectedType: otpdomain.ChallengeRegister})
	assert.ErrorIs(t, err, otp.ErrExpired)
}

func TestState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	st, err := h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, StatusNoChallenge, st.Status)
	assert.False(t, st.Account.Exists)

	_, err = h.svc.StartAuth(ctx, StartAuthRequest{Phone: testPhone, Details: details()})
	require.NoError(t, err)
	st, err = h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, otpdomain.ChallengeRegister, st.Type)
	assert.Equal(t, 5, st.AttemptsLeft)

	h.now = h.now.Add(6 * time.Minute)
	st, err = h.svc.State(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, st.Status)

	_, err = h.svc.State(ctx, "nope")
	assert.ErrorIs(t, err, phone.ErrInvalidPhoneFormat)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.register(t)

	require.NoError(t, h.svc.Logout(ctx, res.Tokens.RefreshToken))
	_, err := h.svc.RefreshSession(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, sessionservice.ErrRevoked)

	assert.NoError(t, h.svc.Logout(ctx, "not-a-token"))
	assert.NoError(t, h.svc.Logout(ctx, ""))
	assert.NoError(t, h.svc.Logout(ctx, res.Tokens.AccessToken), "access tokens are ignored")
}

func TestVerifyFailureReason(t *testing.T) {
	assert.Equal(t, "attempts_exhausted", VerifyFailureReason(otp.ErrAttemptsExhausted))
	assert.Equal(t, "code_mismatch", VerifyFailureReason(otp.ErrCodeMismatch))
	assert.Equal(t, "expired", VerifyFailureReason(otp.ErrExpired))
	assert.Equal(t, "no_challenge", VerifyFailureReason(otp.ErrNoChallenge))
	assert.Equal(t, "type_mismatch", VerifyFailureReason(ErrTypeMismatch))
	assert.Equal(t, "error", VerifyFailureReason(errors.New("boom")))
}
