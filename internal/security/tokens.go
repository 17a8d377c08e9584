package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or issued for another issuer/audience.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a well-formed token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongTokenType is returned when an access token is presented where a refresh token is expected, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenType distinguishes access and refresh JWTs signed with the same key.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT payload of both token types.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	Phone     string    `json:"phone,omitempty"`
	ChainID   string    `json:"chain_id,omitempty"`
}

// Identity is what a verified access token says about its bearer.
type Identity struct {
	AccountID string
	Phone     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshInfo is the verified content of a refresh token.
type RefreshInfo struct {
	JTI       string
	ChainID   string
	AccountID string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and verifies with publicKey.
// issuer and audience are set on every token and required on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for iat/exp and validation. Tests only.
func (p *TokenProvider) SetClock(now func() time.Time) { p.nowF = now }

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived, self-contained access JWT for the account.
func (p *TokenProvider) IssueAccess(accountID, phone string) (token, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.accessTTL)
	claims := Claims{
		RegisteredClaims: p.registered(jti, accountID, now, expiresAt),
		TokenType:        TokenTypeAccess,
		Phone:            phone,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

// IssueRefresh issues a refresh JWT in the given rotation chain. The caller records
// jti server-side; the token is only usable while that record is live.
func (p *TokenProvider) IssueRefresh(accountID, chainID string) (token, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.refreshTTL)
	claims := Claims{
		RegisteredClaims: p.registered(jti, accountID, now, expiresAt),
		TokenType:        TokenTypeRefresh,
		ChainID:          chainID,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

// ValidateAccess checks signature, expiry, issuer, audience and token type. No store lookup.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Identity, error) {
	c, err := p.parse(tokenString, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return &Identity{
		AccountID: c.Subject,
		Phone:     c.Phone,
		TokenID:   c.ID,
		IssuedAt:  numericTime(c.IssuedAt),
		ExpiresAt: numericTime(c.ExpiresAt),
	}, nil
}

// ValidateRefresh checks signature, expiry, issuer, audience and token type.
// Whether the token was already used or revoked is decided by the caller's store.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshInfo, error) {
	c, err := p.parse(tokenString, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if c.ChainID == "" {
		return nil, ErrInvalidToken
	}
	return &RefreshInfo{
		JTI:       c.ID,
		ChainID:   c.ChainID,
		AccountID: c.Subject,
		ExpiresAt: numericTime(c.ExpiresAt),
	}, nil
}

func (p *TokenProvider) parse(tokenString string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, p.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return p.publicKey, nil
	}
	return nil, ErrInvalidToken
}

func (p *TokenProvider) registered(jti, subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
