// Package service issues, rotates and revokes access/refresh token pairs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	accountdomain "phone-otp-auth/backend/internal/account/domain"
	"phone-otp-auth/backend/internal/security"
	"phone-otp-auth/backend/internal/session/domain"
	"phone-otp-auth/backend/internal/session/repository"
)

var (
	// ErrRevoked is returned for refresh tokens that were revoked or are unknown to the server.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrReused is returned when an already exchanged refresh token is presented again.
	// The whole rotation chain is revoked before it is returned.
	ErrReused = errors.New("refresh token reuse detected")
)

const tokenTypeBearer = "Bearer"

// TokenService owns refresh token records and signs token pairs.
type TokenService struct {
	repo   repository.Repository
	tokens *security.TokenProvider
	nowF   func() time.Time
	logger *zap.Logger
}

// NewTokenService returns a TokenService. logger may be nil.
func NewTokenService(repo repository.Repository, tokens *security.TokenProvider, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{repo: repo, tokens: tokens, nowF: time.Now, logger: logger}
}

// SetClock overrides the time source for record timestamps. Tests only.
func (s *TokenService) SetClock(now func() time.Time) { s.nowF = now }

// Issue starts a new rotation chain for the account and returns its first pair.
func (s *TokenService) Issue(ctx context.Context, a *accountdomain.Account) (*domain.TokenPair, error) {
	pair, record, err := s.mint(a.ID, a.Phone, uuid.New().String())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// VerifyAccess checks signature, expiry and type of an access token without any lookup.
func (s *TokenService) VerifyAccess(token string) (*security.Identity, error) {
	return s.tokens.ValidateAccess(token)
}

// Rotate exchanges a refresh token for a new pair in the same chain. The old token is
// marked used in the same atomic step that stores its successor.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	info, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	var pair *domain.TokenPair
	_, err = s.repo.Rotate(ctx, info.JTI, s.nowF().UTC(), func(old *domain.RefreshToken) (*domain.RefreshToken, error) {
		if old.AccountID != info.AccountID || old.ChainID != info.ChainID || !security.TokenHashEqual(refreshToken, old.TokenHash) {
			return nil, security.ErrInvalidToken
		}
		p, next, err := s.mint(old.AccountID, old.Phone, old.ChainID)
		if err != nil {
			return nil, err
		}
		pair = p
		return next, nil
	})
	switch {
	case err == nil:
		return pair, nil
	case errors.Is(err, repository.ErrTokenUsed):
		if rerr := s.repo.RevokeChain(ctx, info.ChainID, s.nowF().UTC()); rerr != nil {
			s.logger.Error("revoke chain after reuse", zap.String("chain_id", info.ChainID), zap.Error(rerr))
		}
		s.logger.Warn("refresh token reuse detected, chain revoked",
			zap.String("chain_id", info.ChainID), zap.String("account_id", info.AccountID))
		return nil, ErrReused
	case errors.Is(err, repository.ErrTokenRevoked), errors.Is(err, repository.ErrTokenNotFound):
		return nil, ErrRevoked
	default:
		return nil, err
	}
}

// Revoke revokes the chain of a validly signed refresh token.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	info, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return err
	}
	return s.repo.RevokeChain(ctx, info.ChainID, s.nowF().UTC())
}

// RevokeAccount revokes every refresh token of the account. Access tokens stay valid until they expire.
func (s *TokenService) RevokeAccount(ctx context.Context, accountID string) error {
	return s.repo.RevokeAccount(ctx, accountID, s.nowF().UTC())
}

// Sweep deletes refresh records past their expiry.
func (s *TokenService) Sweep(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx, s.nowF().UTC())
}

func (s *TokenService) mint(accountID, phone, chainID string) (*domain.TokenPair, *domain.RefreshToken, error) {
	access, _, accessExp, err := s.tokens.IssueAccess(accountID, phone)
	if err != nil {
		return nil, nil, err
	}
	refresh, jti, refreshExp, err := s.tokens.IssueRefresh(accountID, chainID)
	if err != nil {
		return nil, nil, err
	}
	record := &domain.RefreshToken{
		JTI:       jti,
		ChainID:   chainID,
		AccountID: accountID,
		Phone:     phone,
		TokenHash: security.HashToken(refresh),
		ExpiresAt: refreshExp,
		CreatedAt: s.nowF().UTC(),
	}
	pair := &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        tokenTypeBearer,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	return pair, record, nil
}
