package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"phone-otp-auth/backend/internal/account/domain"
)

const (
	getAccountByPhoneSQL = `SELECT id, phone, verified, COALESCE(profile_ref::text, ''), created_at, updated_at
FROM accounts WHERE phone = $1`
	insertAccountSQL = `INSERT INTO accounts (id, phone, verified, profile_ref, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6)
ON CONFLICT (phone) DO NOTHING
RETURNING id`
	markVerifiedSQL  = `UPDATE accounts SET verified = TRUE, updated_at = $2 WHERE id = $1`
	insertProfileSQL = `INSERT INTO vendor_profiles (id, phone, business_name, owner_name, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phone) DO NOTHING
RETURNING id`
	profileExistsSQL = `SELECT EXISTS (SELECT 1 FROM vendor_profiles WHERE phone = $1)`
	deleteProfileSQL = `DELETE FROM vendor_profiles p WHERE p.phone = $1 AND p.id = $2
AND NOT EXISTS (SELECT 1 FROM accounts a WHERE a.profile_ref = p.id)`
	// A profile without an account is left over from an earlier failed registration
	// and is taken over; a profile that already backs an account yields no row.
	claimProfileSQL = `INSERT INTO vendor_profiles AS p (id, phone, business_name, owner_name, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phone) DO UPDATE
SET business_name = EXCLUDED.business_name, owner_name = EXCLUDED.owner_name
WHERE NOT EXISTS (SELECT 1 FROM accounts a WHERE a.phone = p.phone)
RETURNING id`
)

// PostgresRepository persists accounts in the accounts table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByPhone returns the account for phone, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRowContext(ctx, getAccountByPhoneSQL, phone).
		Scan(&a.ID, &a.Phone, &a.Verified, &a.ProfileRef, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreateIfAbsent inserts a. A conflicting phone yields no row and domain.ErrAccountAlreadyExists.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, a *domain.Account) error {
	var id string
	err := r.db.QueryRowContext(ctx, insertAccountSQL,
		a.ID, a.Phone, a.Verified, a.ProfileRef, a.CreatedAt, a.UpdatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAccountAlreadyExists
		}
		return err
	}
	return nil
}

// RegisterAccount claims the vendor profile and inserts the account in one transaction.
func (r *PostgresRepository) RegisterAccount(ctx context.Context, a *domain.Account, d domain.RegistrationDetails) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var ref string
	err = tx.QueryRowContext(ctx, claimProfileSQL,
		uuid.New().String(), a.Phone, d.BusinessName, d.OwnerName, a.CreatedAt).Scan(&ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAccountAlreadyExists
		}
		return err
	}
	var id string
	err = tx.QueryRowContext(ctx, insertAccountSQL,
		a.ID, a.Phone, a.Verified, ref, a.CreatedAt, a.UpdatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAccountAlreadyExists
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.ProfileRef = ref
	return nil
}

// MarkVerified sets verified=true. Returns nil if no row was updated.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, markVerifiedSQL, id, at)
	return err
}

// PostgresProfileRepository stores vendor profiles in the vendor_profiles table.
type PostgresProfileRepository struct {
	db *sql.DB
}

// NewPostgresProfileRepository returns a profile store backed by db.
func NewPostgresProfileRepository(db *sql.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// CreateProfile inserts a profile row and returns its id as the profile reference.
func (r *PostgresProfileRepository) CreateProfile(ctx context.Context, phone string, d domain.RegistrationDetails) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, insertProfileSQL,
		uuid.New().String(), phone, d.BusinessName, d.OwnerName, time.Now().UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrAccountAlreadyExists
		}
		return "", err
	}
	return id, nil
}

// DeleteProfile removes the profile row with id ref unless an account points at it.
func (r *PostgresProfileRepository) DeleteProfile(ctx context.Context, phone, ref string) error {
	_, err := r.db.ExecContext(ctx, deleteProfileSQL, phone, ref)
	return err
}

// ProfileExists reports whether a profile row exists for phone.
func (r *PostgresProfileRepository) ProfileExists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, profileExistsSQL, phone).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
