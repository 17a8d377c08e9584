package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"phone-otp-auth/backend/internal/session/domain"
)

const (
	refreshColumns   = `jti, chain_id, account_id, phone, token_hash, expires_at, used_at, revoked_at, created_at`
	insertRefreshSQL = `INSERT INTO refresh_tokens (` + refreshColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	getRefreshSQL       = `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE jti = $1`
	lockRefreshSQL      = getRefreshSQL + ` FOR UPDATE`
	markUsedSQL         = `UPDATE refresh_tokens SET used_at = $2 WHERE jti = $1`
	revokeChainSQL      = `UPDATE refresh_tokens SET revoked_at = $2 WHERE chain_id = $1 AND revoked_at IS NULL`
	revokeAccountSQL    = `UPDATE refresh_tokens SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`
	deleteExpiredRefSQL = `DELETE FROM refresh_tokens WHERE expires_at < $1`
)

// PostgresRepository persists refresh records in the refresh_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefresh(ctx context.Context, db execer, t *domain.RefreshToken) error {
	_, err := db.ExecContext(ctx, insertRefreshSQL,
		t.JTI, t.ChainID, t.AccountID, t.Phone, t.TokenHash, t.ExpiresAt,
		nullTime(t.UsedAt), nullTime(t.RevokedAt), t.CreatedAt)
	return err
}

// Create inserts t.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	return insertRefresh(ctx, r.db, t)
}

// GetByJTI returns the record for jti, or nil if not found.
func (r *PostgresRepository) GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	t, err := scanRefresh(r.db.QueryRowContext(ctx, getRefreshSQL, jti))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Rotate locks the row, checks it, marks it used and inserts the successor in one transaction.
func (r *PostgresRepository) Rotate(ctx context.Context, jti string, now time.Time, next NextFunc) (*domain.RefreshToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanRefresh(tx.QueryRowContext(ctx, lockRefreshSQL, jti))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if old.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if old.UsedAt != nil {
		return nil, ErrTokenUsed
	}
	successor, err := next(old)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, markUsedSQL, jti, now); err != nil {
		return nil, err
	}
	if err := insertRefresh(ctx, tx, successor); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return successor, nil
}

// RevokeChain revokes every active record of the chain.
func (r *PostgresRepository) RevokeChain(ctx context.Context, chainID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, revokeChainSQL, chainID, at)
	return err
}

// RevokeAccount revokes every active record of the account.
func (r *PostgresRepository) RevokeAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, revokeAccountSQL, accountID, at)
	return err
}

// DeleteExpired deletes records past expiry and returns how many were removed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredRefSQL, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanRefresh(row *sql.Row) (*domain.RefreshToken, error) {
	var (
		t       domain.RefreshToken
		used    sql.NullTime
		revoked sql.NullTime
	)
	err := row.Scan(&t.JTI, &t.ChainID, &t.AccountID, &t.Phone, &t.TokenHash, &t.ExpiresAt, &used, &revoked, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if used.Valid {
		u := used.Time
		t.UsedAt = &u
	}
	if revoked.Valid {
		rv := revoked.Time
		t.RevokedAt = &rv
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
