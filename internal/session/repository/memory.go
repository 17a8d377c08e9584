package repository

import (
	"context"
	"sync"
	"time"

	"phone-otp-auth/backend/internal/session/domain"
)

// MemoryRepository keeps refresh records in process memory behind one mutex.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

// NewMemoryRepository returns an empty refresh token repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *MemoryRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.JTI] = &cp
	return nil
}

func (r *MemoryRepository) GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[jti]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, jti string, now time.Time, next NextFunc) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.tokens[jti]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if old.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if old.UsedAt != nil {
		return nil, ErrTokenUsed
	}
	cp := *old
	successor, err := next(&cp)
	if err != nil {
		return nil, err
	}
	used := now
	old.UsedAt = &used
	stored := *successor
	r.tokens[successor.JTI] = &stored
	return successor, nil
}

func (r *MemoryRepository) RevokeChain(ctx context.Context, chainID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.ChainID == chainID && t.RevokedAt == nil {
			revoked := at
			t.RevokedAt = &revoked
		}
	}
	return nil
}

func (r *MemoryRepository) RevokeAccount(ctx context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.AccountID == accountID && t.RevokedAt == nil {
			revoked := at
			t.RevokedAt = &revoked
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, t := range r.tokens {
		if now.After(t.ExpiresAt) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}
