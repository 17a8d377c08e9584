package middleware

import (
	"context"

	"phone-otp-auth/backend/internal/security"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the verified access token identity.
func WithIdentity(ctx context.Context, id *security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity set by Bearer and true if set; otherwise nil, false.
func GetIdentity(ctx context.Context) (*security.Identity, bool) {
	v, ok := ctx.Value(identityKey).(*security.Identity)
	return v, ok && v != nil
}

// GetAccountID returns the account_id of the bearer and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok {
		return "", false
	}
	return id.AccountID, true
}
