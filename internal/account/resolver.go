// Package account decides between login and registration for a phone number and
// owns the verified flag on accounts.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/account/domain"
	"phone-otp-auth/backend/internal/account/repository"
	"phone-otp-auth/backend/internal/phone"
)

var (
	// ErrRegistrationDetailsRequired is returned for an unknown phone when no details were supplied.
	ErrRegistrationDetailsRequired = errors.New("registration details required")
	ErrInvalidRegistrationDetails  = domain.ErrInvalidRegistrationDetails
	ErrAccountNotFound             = errors.New("account not found")
	ErrAccountAlreadyExists        = domain.ErrAccountAlreadyExists
	ErrInvalidAction               = errors.New("invalid auth action")
)

const (
	defaultStagingTTL = 5 * time.Minute
	// stagingGrace keeps staged details alive past the challenge they were staged with,
	// since staging happens before the challenge is stored.
	stagingGrace = 30 * time.Second
)

// Resolver owns account existence and verification.
type Resolver struct {
	accounts   repository.Repository
	profiles   repository.ProfileRepository
	staging    repository.StagingRepository
	stagingTTL time.Duration
	nowF       func() time.Time
	logger     *zap.Logger
}

// NewResolver returns a Resolver. stagingTTL should match the OTP lifetime; zero uses 5m.
// Details are kept for stagingTTL plus a short grace period.
func NewResolver(accounts repository.Repository, profiles repository.ProfileRepository, staging repository.StagingRepository, stagingTTL time.Duration, logger *zap.Logger) *Resolver {
	if stagingTTL <= 0 {
		stagingTTL = defaultStagingTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		accounts:   accounts,
		profiles:   profiles,
		staging:    staging,
		stagingTTL: stagingTTL,
		nowF:       time.Now,
		logger:     logger,
	}
}

// SetClock overrides the time source. Tests only.
func (r *Resolver) SetClock(now func() time.Time) { r.nowF = now }

// Resolve reports whether an account exists for p and whether it is verified.
func (r *Resolver) Resolve(ctx context.Context, p phone.Number) (domain.Resolution, error) {
	a, err := r.accounts.GetByPhone(ctx, p.String())
	if err != nil {
		return domain.Resolution{}, err
	}
	if a == nil {
		return domain.Resolution{}, nil
	}
	return domain.Resolution{Exists: true, Verified: a.Verified}, nil
}

// BeginAuth picks the action for p. Existing accounts always log in. Unknown numbers need
// details, which are validated and staged until the code is verified.
func (r *Resolver) BeginAuth(ctx context.Context, p phone.Number, details *domain.RegistrationDetails) (domain.Action, error) {
	res, err := r.Resolve(ctx, p)
	if err != nil {
		return "", err
	}
	if res.Exists {
		return domain.ActionLogin, nil
	}
	if details == nil {
		return "", ErrRegistrationDetailsRequired
	}
	d := *details
	if err := d.Validate(); err != nil {
		return "", err
	}
	if err := r.staging.Stage(ctx, p.String(), d, r.stagingTTL+stagingGrace); err != nil {
		return "", fmt.Errorf("stage registration: %w", err)
	}
	return domain.ActionRegister, nil
}

// TakeStaged returns and removes the details staged for p, or nil.
func (r *Resolver) TakeStaged(ctx context.Context, p phone.Number) (*domain.RegistrationDetails, error) {
	return r.staging.Take(ctx, p.String())
}

// CompleteAuth finishes a verified challenge. Login marks the existing account verified.
// Register creates the profile and the account together; a failure leaves neither behind.
func (r *Resolver) CompleteAuth(ctx context.Context, p phone.Number, action domain.Action, details *domain.RegistrationDetails) (*domain.Account, error) {
	switch action {
	case domain.ActionLogin:
		return r.completeLogin(ctx, p)
	case domain.ActionRegister:
		return r.completeRegister(ctx, p, details)
	default:
		return nil, ErrInvalidAction
	}
}

func (r *Resolver) completeLogin(ctx context.Context, p phone.Number) (*domain.Account, error) {
	a, err := r.accounts.GetByPhone(ctx, p.String())
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	if !a.Verified {
		now := r.nowF().UTC()
		if err := r.accounts.MarkVerified(ctx, a.ID, now); err != nil {
			return nil, fmt.Errorf("mark verified: %w", err)
		}
		a.Verified = true
		a.UpdatedAt = now
	}
	return a, nil
}

func (r *Resolver) completeRegister(ctx context.Context, p phone.Number, details *domain.RegistrationDetails) (*domain.Account, error) {
	if details == nil {
		return nil, ErrRegistrationDetailsRequired
	}
	d := *details
	if err := d.Validate(); err != nil {
		return nil, err
	}
	now := r.nowF().UTC()
	a := &domain.Account{
		ID:        uuid.New().String(),
		Phone:     p.String(),
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var err error
	if reg, ok := r.accounts.(repository.Registrar); ok {
		err = reg.RegisterAccount(ctx, a, d)
	} else {
		err = r.registerStepwise(ctx, a, d)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("account registered", zap.String("account_id", a.ID), zap.String("phone", phone.Mask(p)))
	return a, nil
}

// registerStepwise creates the profile, then the account, and removes the profile
// again when the account insert fails so the phone can register on retry.
func (r *Resolver) registerStepwise(ctx context.Context, a *domain.Account, d domain.RegistrationDetails) error {
	ref, err := r.profiles.CreateProfile(ctx, a.Phone, d)
	if err != nil {
		return err
	}
	a.ProfileRef = ref
	if err := r.accounts.CreateIfAbsent(ctx, a); err != nil {
		if derr := r.profiles.DeleteProfile(ctx, a.Phone, ref); derr != nil {
			r.logger.Error("remove profile after failed registration",
				zap.String("phone", phone.Mask(phone.Number(a.Phone))), zap.Error(derr))
		}
		return err
	}
	return nil
}
