package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-otp-auth/backend/internal/account"
	accountrepo "phone-otp-auth/backend/internal/account/repository"
	"phone-otp-auth/backend/internal/devotp"
	"phone-otp-auth/backend/internal/identity/service"
	"phone-otp-auth/backend/internal/otp"
	otprepo "phone-otp-auth/backend/internal/otp/repository"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/ratelimit"
	"phone-otp-auth/backend/internal/security"
	"phone-otp-auth/backend/internal/server/middleware"
	sessionrepo "phone-otp-auth/backend/internal/session/repository"
	sessionservice "phone-otp-auth/backend/internal/session/service"
)

const testPhone = "+15551234567"

type switchableSender struct {
	next otp.Sender
	err  error
}

func (s *switchableSender) Send(ctx context.Context, p phone.Number, code string) error {
	if err := s.next.Send(ctx, p, code); err != nil {
		return err
	}
	return s.err
}

type testServer struct {
	router *gin.Engine
	sender *switchableSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := otp.NewStore(otprepo.NewMemoryRepository(), otp.NewHasher([]byte("pepper")), otp.DefaultOptions())
	devStore := devotp.NewMemoryStore()
	sender := &switchableSender{next: devotp.NewSender(devStore, store.TTL())}
	issuer := otp.NewIssuer(store, ratelimit.NewMemoryLimiter(), sender, nil, otp.IssuerConfig{
		PhoneRule: ratelimit.Rule{Limit: 3, Window: 10 * time.Minute},
	}, nil)
	resolver := account.NewResolver(accountrepo.NewMemoryRepository(), accountrepo.NewMemoryProfileRepository(),
		accountrepo.NewMemoryStagingRepository(), store.TTL(), nil)
	tp, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	tokens := sessionservice.NewTokenService(sessionrepo.NewMemoryRepository(), tp, nil)
	auth := service.NewAuthService(phone.Normalizer{}, store, issuer, resolver, tokens, nil, nil)

	r := gin.New()
	NewAuthServer(auth, phone.Normalizer{}, devStore, nil).Register(r, middleware.Bearer(tokens))
	return &testServer{router: r, sender: sender}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (ts *testServer) devCode(t *testing.T, p string) string {
	t.Helper()
	w, body := ts.do(t, http.MethodGet, "/dev/otp?phone="+url.QueryEscape(p), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return body["otp"].(string)
}

func registerBody() map[string]string {
	return map[string]string{"phone": testPhone, "business_name": "Corner Shop", "owner_name": "Sam Lee"}
}

func TestRegisterFlow(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/v1/auth/start", registerBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "register", body["action"])
	assert.NotEmpty(t, body["expires_at"])

	w, body = ts.do(t, http.MethodGet, "/v1/auth/state?phone="+url.QueryEscape(testPhone), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(5), body["attempts_left"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/verify", map[string]string{
		"phone": testPhone, "code": ts.devCode(t, testPhone), "type": "register",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["registered"])
	acct := body["account"].(map[string]any)
	assert.Equal(t, testPhone, acct["phone"])
	assert.Equal(t, true, acct["verified"])
	tokens := body["tokens"].(map[string]any)
	access := tokens["access_token"].(string)
	refresh := tokens["refresh_token"].(string)
	assert.Equal(t, "Bearer", tokens["token_type"])

	w, body = ts.do(t, http.MethodGet, "/v1/auth/me", nil, "Authorization", "Bearer "+access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, acct["id"], body["account_id"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	next := body["refresh_token"].(string)

	w, body = ts.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session_invalid", body["error"])

	w, _ = ts.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": next})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStart_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/v1/auth/start", map[string]string{"phone": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_phone", body["error"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/start", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "registration_details_required", body["error"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/start", map[string]string{"phone": testPhone, "business_name": "Shop"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_registration_details", body["error"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestStart_RateLimitedSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		w, _ := ts.do(t, http.MethodPost, "/v1/auth/start", registerBody())
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, body := ts.do(t, http.MethodPost, "/v1/auth/start", registerBody())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["error"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestStart_SendFailedKeepsAction(t *testing.T) {
	ts := newTestServer(t)
	ts.sender.err = errors.New("gateway timeout")

	w, body := ts.do(t, http.MethodPost, "/v1/auth/start", registerBody())
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "send_failed", body["error"])
	assert.Equal(t, "register", body["action"])
}

func TestVerify_GenericFailures(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/v1/auth/verify", map[string]string{"phone": testPhone, "code": "123456", "type": "login"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_code", body["error"])
	noChallengeMsg := body["message"]

	w, _ = ts.do(t, http.MethodPost, "/v1/auth/start", registerBody())
	require.Equal(t, http.StatusOK, w.Code)
	code := ts.devCode(t, testPhone)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	w, body = ts.do(t, http.MethodPost, "/v1/auth/verify", map[string]string{"phone": testPhone, "code": wrong, "type": "register"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, noChallengeMsg, body["message"], "mismatch and missing challenge look the same")

	w, body = ts.do(t, http.MethodPost, "/v1/auth/verify", map[string]string{"phone": testPhone, "code": code, "type": "signup"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_type", body["error"])

	w, body = ts.do(t, http.MethodPost, "/v1/auth/verify", map[string]string{"phone": testPhone, "code": code, "type": "login"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_code", body["error"])
}

func TestMe_RequiresBearer(t *testing.T) {
	ts := newTestServer(t)
	w, body := ts.do(t, http.MethodGet, "/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session_invalid", body["error"])
}

func TestLogout_InvalidTokenIsNoContent(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": "garbage"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDevOTP(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/dev/otp?phone="+url.QueryEscape(testPhone), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/dev/otp?phone=xyz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevOTP_NotMountedWithoutStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewAuthServer(nil, phone.Normalizer{}, nil, nil).Register(r, func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dev/otp?phone=%2B15551234567", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
