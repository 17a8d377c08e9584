package repository

import (
	"context"
	"errors"
	"time"

	"phone-otp-auth/backend/internal/session/domain"
)

var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrTokenUsed     = errors.New("refresh token already used")
)

// NextFunc builds the successor of old. Returning an error aborts the rotation unchanged.
type NextFunc func(old *domain.RefreshToken) (*domain.RefreshToken, error)

// Repository defines persistence for refresh token records.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByJTI returns the record for jti, or nil if not found.
	GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error)
	// Rotate marks jti used and stores the record returned by next in one atomic step.
	// It fails with ErrTokenNotFound, ErrTokenRevoked (checked first) or ErrTokenUsed.
	Rotate(ctx context.Context, jti string, now time.Time, next NextFunc) (*domain.RefreshToken, error)
	// RevokeChain revokes every record of the chain that is not yet revoked.
	RevokeChain(ctx context.Context, chainID string, at time.Time) error
	// RevokeAccount revokes every record of the account.
	RevokeAccount(ctx context.Context, accountID string, at time.Time) error
	// DeleteExpired deletes records that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
