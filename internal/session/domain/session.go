package domain

import "time"

// RefreshToken is the server-side record of one issued refresh token.
// Tokens from one login share a ChainID; each rotation adds a record to the chain.
type RefreshToken struct {
	JTI       string
	ChainID   string
	AccountID string
	Phone     string
	TokenHash string // SHA-256 of the signed token
	ExpiresAt time.Time
	UsedAt    *time.Time // set once the token was exchanged
	RevokedAt *time.Time // set on logout or reuse detection
	CreatedAt time.Time
}

// Active reports whether the record can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.UsedAt == nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenPair is returned to the client after verification or rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
