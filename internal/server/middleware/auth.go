// Package middleware holds gin middleware shared by every route group.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"phone-otp-auth/backend/internal/security"
)

const bearerPrefix = "bearer "

// AccessVerifier validates access tokens without a store lookup.
type AccessVerifier interface {
	VerifyAccess(token string) (*security.Identity, error)
}

// Bearer validates the Authorization: Bearer access token and stores the identity in the
// request context. Missing or invalid tokens are rejected with 401 and the generic session_invalid code.
func Bearer(v AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c)
			return
		}
		id, err := v.VerifyAccess(token)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_invalid", "message": "session invalid"})
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
