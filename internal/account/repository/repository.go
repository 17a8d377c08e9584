package repository

import (
	"context"
	"time"

	"phone-otp-auth/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	// GetByPhone returns the account for phone, or nil if none exists.
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
	// CreateIfAbsent inserts a. It returns domain.ErrAccountAlreadyExists when the phone is taken.
	CreateIfAbsent(ctx context.Context, a *domain.Account) error
	// MarkVerified sets verified=true. No-op when the account does not exist.
	MarkVerified(ctx context.Context, id string, at time.Time) error
}

// ProfileRepository stores the vendor profile fields this service only passes through.
type ProfileRepository interface {
	// CreateProfile inserts the profile for phone and returns its reference.
	// It returns domain.ErrAccountAlreadyExists when a profile for phone exists.
	CreateProfile(ctx context.Context, phone string, d domain.RegistrationDetails) (string, error)
	ProfileExists(ctx context.Context, phone string) (bool, error)
	// DeleteProfile removes the profile for phone when its reference is ref.
	DeleteProfile(ctx context.Context, phone, ref string) error
}

// Registrar creates a profile and its account as one unit. Account repositories that
// can write both in a single transaction implement it.
type Registrar interface {
	// RegisterAccount stores the profile for d, sets a.ProfileRef and inserts a.
	// Nothing is written when it fails. It returns domain.ErrAccountAlreadyExists when
	// an account for a.Phone exists.
	RegisterAccount(ctx context.Context, a *domain.Account, d domain.RegistrationDetails) error
}

// StagingRepository holds registration details between start and verify.
type StagingRepository interface {
	Stage(ctx context.Context, phone string, d domain.RegistrationDetails, ttl time.Duration) error
	// Take returns and deletes the staged details, or nil when none are staged.
	Take(ctx context.Context, phone string) (*domain.RegistrationDetails, error)
}
