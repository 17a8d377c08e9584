// Package otp issues and verifies one-time codes bound to a phone number.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/otp/repository"
	"phone-otp-auth/backend/internal/phone"
)

var (
	ErrNoChallenge  = errors.New("no active challenge")
	ErrExpired      = errors.New("challenge expired")
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrAttemptsExhausted is the final mismatch; errors.Is(err, ErrCodeMismatch) also holds.
	ErrAttemptsExhausted = fmt.Errorf("attempts exhausted: %w", ErrCodeMismatch)
	ErrInvalidType       = errors.New("invalid challenge type")
)

// Options configures a Store.
type Options struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
}

// DefaultOptions returns 6 digit codes valid for 5 minutes with 5 attempts.
func DefaultOptions() Options {
	return Options{Length: 6, TTL: 5 * time.Minute, MaxAttempts: 5}
}

// Store owns OTP challenges: at most one per phone, consumed on success.
type Store struct {
	repo   repository.Repository
	hasher *Hasher
	opts   Options
	nowF   func() time.Time
}

// NewStore returns a Store over repo. Zero option fields take DefaultOptions values.
func NewStore(repo repository.Repository, hasher *Hasher, opts Options) *Store {
	def := DefaultOptions()
	if opts.Length == 0 {
		opts.Length = def.Length
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Store{repo: repo, hasher: hasher, opts: opts, nowF: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.nowF = now }

// TTL returns the challenge lifetime.
func (s *Store) TTL() time.Duration { return s.opts.TTL }

// Put creates a fresh challenge for phone, replacing any existing one, and returns the
// stored challenge plus the plaintext code for delivery.
func (s *Store) Put(ctx context.Context, p phone.Number, typ domain.ChallengeType) (*domain.Challenge, string, error) {
	if !typ.Valid() {
		return nil, "", ErrInvalidType
	}
	code, err := GenerateCode(s.opts.Length)
	if err != nil {
		return nil, "", err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}
	now := s.nowF().UTC()
	c := &domain.Challenge{
		Phone:        p.String(),
		Type:         typ,
		CodeHash:     s.hasher.Hash(salt, p.String(), code),
		Salt:         salt,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.TTL),
		AttemptsLeft: s.opts.MaxAttempts,
	}
	if err := s.repo.Replace(ctx, c); err != nil {
		return nil, "", fmt.Errorf("store challenge: %w", err)
	}
	return c, code, nil
}

// Verify checks code against the phone's challenge. On success the challenge is
// consumed and its type returned.
func (s *Store) Verify(ctx context.Context, p phone.Number, code string) (domain.ChallengeType, error) {
	var (
		typ    domain.ChallengeType
		result error
	)
	err := s.repo.Update(ctx, p.String(), func(c *domain.Challenge) repository.Decision {
		typ, result = "", nil
		if c == nil {
			result = ErrNoChallenge
			return repository.Keep
		}
		if c.Expired(s.nowF()) {
			result = ErrExpired
			return repository.Delete
		}
		if s.hasher.Equal(c.Salt, c.Phone, code, c.CodeHash) {
			typ = c.Type
			return repository.Delete
		}
		c.AttemptsLeft--
		if c.AttemptsLeft <= 0 {
			result = ErrAttemptsExhausted
			return repository.Delete
		}
		result = ErrCodeMismatch
		return repository.Save
	})
	if err != nil {
		return "", fmt.Errorf("verify challenge: %w", err)
	}
	if result != nil {
		return "", result
	}
	return typ, nil
}

// Peek returns the phone's challenge without modifying it, or nil.
func (s *Store) Peek(ctx context.Context, p phone.Number) (*domain.Challenge, error) {
	return s.repo.Get(ctx, p.String())
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.nowF() }

// Sweep deletes expired challenges.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx, s.nowF())
}
