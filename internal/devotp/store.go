// Package devotp keeps plaintext OTP codes by phone number for dev-only retrieval (GET /dev/otp).
// It doubles as the SMS sender when OTP_RETURN_TO_CLIENT is enabled, so no message leaves the process.
package devotp

import (
	"context"
	"sync"
	"time"

	"phone-otp-auth/backend/internal/phone"
)

// Store holds plain OTP by phone for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for p until expiresAt, replacing any earlier code.
	Put(ctx context.Context, p phone.Number, code string, expiresAt time.Time)
	// Get returns the code for p if present and not expired.
	Get(ctx context.Context, p phone.Number) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[phone.Number]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[phone.Number]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) { s.nowF = now }

// Put stores code for p until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, p phone.Number, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[p] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for p if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, p phone.Number) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[p]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, p)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Sender records codes in a Store instead of delivering them. It satisfies otp.Sender.
type Sender struct {
	store Store
	ttl   time.Duration
	nowF  func() time.Time
}

// NewSender returns a Sender that keeps each code readable for ttl (the challenge lifetime).
func NewSender(store Store, ttl time.Duration) *Sender {
	return &Sender{store: store, ttl: ttl, nowF: func() time.Time { return time.Now().UTC() }}
}

// Send stores code for p. It never fails.
func (s *Sender) Send(ctx context.Context, p phone.Number, code string) error {
	s.store.Put(ctx, p, code, s.nowF().Add(s.ttl))
	return nil
}
