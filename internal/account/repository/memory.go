package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"phone-otp-auth/backend/internal/account/domain"
)

// MemoryRepository is an in-process account repository.
type MemoryRepository struct {
	mu      sync.Mutex
	byPhone map[string]*domain.Account
}

// NewMemoryRepository returns an empty account repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byPhone: make(map[string]*domain.Account)}
}

func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byPhone[phone]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) CreateIfAbsent(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[a.Phone]; ok {
		return domain.ErrAccountAlreadyExists
	}
	cp := *a
	r.byPhone[a.Phone] = &cp
	return nil
}

func (r *MemoryRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byPhone {
		if a.ID == id {
			a.Verified = true
			a.UpdatedAt = at
			return nil
		}
	}
	return nil
}

// MemoryProfileRepository is an in-process profile store.
type MemoryProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]memoryProfile
}

type memoryProfile struct {
	ref     string
	details domain.RegistrationDetails
}

// NewMemoryProfileRepository returns an empty profile store.
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]memoryProfile)}
}

func (r *MemoryProfileRepository) CreateProfile(ctx context.Context, phone string, d domain.RegistrationDetails) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[phone]; ok {
		return "", domain.ErrAccountAlreadyExists
	}
	ref := uuid.New().String()
	r.profiles[phone] = memoryProfile{ref: ref, details: d}
	return ref, nil
}

func (r *MemoryProfileRepository) DeleteProfile(ctx context.Context, phone, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[phone]; ok && p.ref == ref {
		delete(r.profiles, phone)
	}
	return nil
}

func (r *MemoryProfileRepository) ProfileExists(ctx context.Context, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.profiles[phone]
	return ok, nil
}

// Details returns the stored profile fields for phone. Used by tests and the seed tool.
func (r *MemoryProfileRepository) Details(phone string) (domain.RegistrationDetails, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[phone]
	return p.details, ok
}

// MemoryStagingRepository keeps staged details in memory with an expiry.
type MemoryStagingRepository struct {
	mu     sync.Mutex
	staged map[string]stagedDetails
	nowF   func() time.Time
}

type stagedDetails struct {
	details   domain.RegistrationDetails
	expiresAt time.Time
}

// NewMemoryStagingRepository returns an empty staging store.
func NewMemoryStagingRepository() *MemoryStagingRepository {
	return &MemoryStagingRepository{staged: make(map[string]stagedDetails), nowF: time.Now}
}

// SetClock overrides the time source. Tests only.
func (r *MemoryStagingRepository) SetClock(now func() time.Time) { r.nowF = now }

func (r *MemoryStagingRepository) Stage(ctx context.Context, phone string, d domain.RegistrationDetails, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[phone] = stagedDetails{details: d, expiresAt: r.nowF().Add(ttl)}
	return nil
}

func (r *MemoryStagingRepository) Take(ctx context.Context, phone string) (*domain.RegistrationDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.staged[phone]
	if !ok {
		return nil, nil
	}
	delete(r.staged, phone)
	if r.nowF().After(s.expiresAt) {
		return nil, nil
	}
	d := s.details
	return &d, nil
}

// DeleteExpired drops staged details past expiry.
func (r *MemoryStagingRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.staged {
		if now.After(s.expiresAt) {
			delete(r.staged, k)
			n++
		}
	}
	return n, nil
}
