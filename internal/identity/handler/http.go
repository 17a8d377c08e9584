// Package handler maps the auth flow onto JSON over HTTP (gin).
package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/account"
	accountdomain "phone-otp-auth/backend/internal/account/domain"
	"phone-otp-auth/backend/internal/devotp"
	"phone-otp-auth/backend/internal/identity/service"
	"phone-otp-auth/backend/internal/otp"
	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/ratelimit"
	"phone-otp-auth/backend/internal/security"
	"phone-otp-auth/backend/internal/server/middleware"
	sessiondomain "phone-otp-auth/backend/internal/session/domain"
	sessionservice "phone-otp-auth/backend/internal/session/service"
)

// Public messages. Security failures collapse into two messages so clients cannot tell
// a wrong code from an expired or missing challenge.
const (
	msgInvalidCode    = "invalid or expired code"
	msgSessionInvalid = "session invalid"
	devOTPNote        = "DEV MODE ONLY"
)

// AuthServer serves /v1/auth and, in dev OTP mode, /dev/otp.
type AuthServer struct {
	auth       *service.AuthService
	normalizer phone.Normalizer
	devOTP     devotp.Store
	logger     *zap.Logger
}

// NewAuthServer returns the HTTP adapter. devOTP is nil unless dev OTP mode is enabled outside production.
func NewAuthServer(auth *service.AuthService, normalizer phone.Normalizer, devOTP devotp.Store, logger *zap.Logger) *AuthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthServer{auth: auth, normalizer: normalizer, devOTP: devOTP, logger: logger}
}

// Register mounts the routes. bearer guards /v1/auth/me.
func (s *AuthServer) Register(r gin.IRouter, bearer gin.HandlerFunc) {
	g := r.Group("/v1/auth")
	g.POST("/start", s.Start)
	g.POST("/verify", s.Verify)
	g.POST("/refresh", s.Refresh)
	g.POST("/logout", s.Logout)
	g.GET("/state", s.State)
	g.GET("/me", bearer, s.Me)
	if s.devOTP != nil {
		r.GET("/dev/otp", s.DevOTP)
	}
}

type startRequest struct {
	Phone        string `json:"phone" binding:"required"`
	BusinessName string `json:"business_name"`
	OwnerName    string `json:"owner_name"`
}

type startResponse struct {
	Phone     string    `json:"phone"`
	Action    string    `json:"action"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type verifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
	Type  string `json:"type" binding:"required"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Verified   bool      `json:"verified"`
	ProfileRef string    `json:"profile_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type verifyResponse struct {
	Tokens     *sessiondomain.TokenPair `json:"tokens"`
	Account    accountResponse          `json:"account"`
	Registered bool                     `json:"registered"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Start handles POST /v1/auth/start.
func (s *AuthServer) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "phone is required")
		return
	}
	var details *accountdomain.RegistrationDetails
	if req.BusinessName != "" || req.OwnerName != "" {
		details = &accountdomain.RegistrationDetails{BusinessName: req.BusinessName, OwnerName: req.OwnerName}
	}
	res, err := s.auth.StartAuth(c.Request.Context(), service.StartAuthRequest{
		Phone:        req.Phone,
		Details:      details,
		RateLimitKey: c.ClientIP(),
	})
	if err != nil && res != nil && errors.Is(err, otp.ErrSendFailed) {
		c.JSON(http.StatusBadGateway, startResponse{
			Phone:     res.Phone.String(),
			Action:    string(res.Action),
			ExpiresAt: res.ExpiresAt,
			Error:     "send_failed",
			Message:   "code could not be delivered, request a new one",
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, startResponse{Phone: res.Phone.String(), Action: string(res.Action), ExpiresAt: res.ExpiresAt})
}

// Verify handles POST /v1/auth/verify.
func (s *AuthServer) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "phone, code and type are required")
		return
	}
	res, err := s.auth.VerifyAuth(c.Request.Context(), service.VerifyAuthRequest{
		Phone:        req.Phone,
		Code:         req.Code,
		ExpectedType: otpdomain.ChallengeType(req.Type),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Tokens: res.Tokens,
		Account: accountResponse{
			ID:         res.Account.ID,
			Phone:      res.Account.Phone,
			Verified:   res.Account.Verified,
			ProfileRef: res.Account.ProfileRef,
			CreatedAt:  res.Account.CreatedAt,
		},
		Registered: res.Registered,
	})
}

// Refresh handles POST /v1/auth/refresh.
func (s *AuthServer) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "refresh_token is required")
		return
	}
	pair, err := s.auth.RefreshSession(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout handles POST /v1/auth/logout. Unknown or invalid tokens still answer 204.
func (s *AuthServer) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "refresh_token is required")
		return
	}
	if err := s.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// State handles GET /v1/auth/state?phone=.
func (s *AuthServer) State(c *gin.Context) {
	st, err := s.auth.State(c.Request.Context(), c.Query("phone"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	body := gin.H{
		"phone":          st.Phone.String(),
		"status":         st.Status,
		"account_exists": st.Account.Exists,
	}
	if st.Status != service.StatusNoChallenge {
		body["type"] = st.Type
		body["expires_at"] = st.ExpiresAt
	}
	if st.Status == service.StatusPending {
		body["attempts_left"] = st.AttemptsLeft
	}
	c.JSON(http.StatusOK, body)
}

// Me handles GET /v1/auth/me for a verified bearer.
func (s *AuthServer) Me(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_invalid", "message": msgSessionInvalid})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": id.AccountID,
		"phone":      id.Phone,
		"expires_at": id.ExpiresAt,
	})
}

// DevOTP handles GET /dev/otp?phone= and returns the last code sent to the phone.
func (s *AuthServer) DevOTP(c *gin.Context) {
	p, err := s.normalizer.Normalize(c.Query("phone"))
	if err != nil {
		badRequest(c, "invalid_phone", "invalid phone number format")
		return
	}
	code, ok := s.devOTP.Get(c.Request.Context(), p)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "OTP not found or expired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": p.String(), "otp": code, "note": devOTPNote})
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": msg})
}

// writeError maps service errors to status codes. The precise kind is logged, never returned.
func (s *AuthServer) writeError(c *gin.Context, err error) {
	var rl *ratelimit.Error
	switch {
	case errors.Is(err, phone.ErrInvalidPhoneFormat):
		badRequest(c, "invalid_phone", "invalid phone number format")
	case errors.Is(err, account.ErrInvalidRegistrationDetails):
		badRequest(c, "invalid_registration_details", "business_name and owner_name must be 1 to 120 characters")
	case errors.Is(err, otp.ErrInvalidType):
		badRequest(c, "invalid_type", "type must be login or register")
	case errors.Is(err, account.ErrRegistrationDetailsRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "registration_details_required", "message": "business_name and owner_name are required for new numbers"})
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "too many requests, try again later"})
	case errors.Is(err, otp.ErrIssuanceDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "issuance_denied", "message": "a code cannot be sent to this number"})
	case errors.Is(err, account.ErrAccountAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "account_exists", "message": "an account already exists for this number"})
	case errors.Is(err, otp.ErrNoChallenge), errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrCodeMismatch),
		errors.Is(err, service.ErrTypeMismatch), errors.Is(err, account.ErrAccountNotFound):
		s.logger.Info("verify rejected", zap.String("reason", service.VerifyFailureReason(err)), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_code", "message": msgInvalidCode})
	case errors.Is(err, sessionservice.ErrRevoked), errors.Is(err, sessionservice.ErrReused),
		errors.Is(err, security.ErrInvalidToken), errors.Is(err, security.ErrTokenExpired), errors.Is(err, security.ErrWrongTokenType):
		s.logger.Info("session rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_invalid", "message": msgSessionInvalid})
	default:
		s.logger.Error("auth request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	}
}
