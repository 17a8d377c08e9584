package repository

import (
	"context"
	"errors"
	"time"

	"phone-otp-auth/backend/internal/otp/domain"
)

// Decision tells Update what to do with the challenge after the callback ran.
type Decision int

const (
	// Keep leaves storage untouched.
	Keep Decision = iota
	// Save writes back the (mutated) attempt counter.
	Save
	// Delete removes the challenge.
	Delete
)

// ErrConflict is returned when an optimistic update kept losing races.
var ErrConflict = errors.New("otp: concurrent update conflict")

// Repository persists at most one challenge per phone.
type Repository interface {
	// Replace stores c as the only challenge for c.Phone, discarding any previous one.
	Replace(ctx context.Context, c *domain.Challenge) error
	// Get returns the challenge for phone, or nil if none.
	Get(ctx context.Context, phone string) (*domain.Challenge, error)
	// Update runs fn with exclusive access to the phone's challenge (nil when absent) and
	// applies the returned Decision atomically with respect to other Update/Replace calls.
	// fn may run more than once when the backend retries an optimistic transaction.
	Update(ctx context.Context, phone string, fn func(c *domain.Challenge) Decision) error
	// DeleteExpired removes challenges that expired before now. Backends with native TTLs may return 0.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
