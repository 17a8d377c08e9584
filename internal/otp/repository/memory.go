package repository

import (
	"context"
	"sync"
	"time"

	"phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/platform/keylock"
)

// MemoryRepository keeps challenges in process memory with a lock per phone.
type MemoryRepository struct {
	locks *keylock.Map
	mu    sync.RWMutex
	m     map[string]domain.Challenge
}

// NewMemoryRepository returns an empty in-memory challenge repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks: keylock.New(),
		m:     make(map[string]domain.Challenge),
	}
}

// Replace stores c, dropping any previous challenge for the phone.
func (r *MemoryRepository) Replace(ctx context.Context, c *domain.Challenge) error {
	unlock := r.locks.Lock(c.Phone)
	defer unlock()
	r.mu.Lock()
	r.m[c.Phone] = *c
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the phone's challenge, or nil.
func (r *MemoryRepository) Get(ctx context.Context, phone string) (*domain.Challenge, error) {
	r.mu.RLock()
	c, ok := r.m[phone]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Update runs fn under the phone's lock.
func (r *MemoryRepository) Update(ctx context.Context, phone string, fn func(c *domain.Challenge) Decision) error {
	unlock := r.locks.Lock(phone)
	defer unlock()

	r.mu.RLock()
	stored, ok := r.m[phone]
	r.mu.RUnlock()

	var c *domain.Challenge
	if ok {
		c = &stored
	}
	switch fn(c) {
	case Save:
		if c != nil {
			r.mu.Lock()
			r.m[phone] = *c
			r.mu.Unlock()
		}
	case Delete:
		r.mu.Lock()
		delete(r.m, phone)
		r.mu.Unlock()
	}
	return nil
}

// DeleteExpired removes challenges past expiry. Each removal holds the phone's lock,
// so a sweep never interleaves with an Update on the same phone.
func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []string
	r.mu.RLock()
	for k, c := range r.m {
		if c.Expired(now) {
			expired = append(expired, k)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, k := range expired {
		unlock := r.locks.Lock(k)
		r.mu.Lock()
		if c, ok := r.m[k]; ok && c.Expired(now) {
			delete(r.m, k)
			n++
		}
		r.mu.Unlock()
		unlock()
	}
	return n, nil
}
