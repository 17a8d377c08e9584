package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-otp-auth/backend/internal/session/domain"
)

var refreshCols = []string{"jti", "chain_id", "account_id", "phone", "token_hash", "expires_at", "used_at", "revoked_at", "created_at"}

func refreshRow(used, revoked any) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(refreshCols).
		AddRow("jti-1", "chain-1", "acc-1", "+15551234567", "hash", now.Add(time.Hour), used, revoked, now)
}

func successor(old *domain.RefreshToken) (*domain.RefreshToken, error) {
	now := time.Now().UTC()
	return &domain.RefreshToken{
		JTI: "jti-2", ChainID: old.ChainID, AccountID: old.AccountID, Phone: old.Phone,
		TokenHash: "hash-2", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}, nil
}

func TestPostgresRotate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE jti = $1 FOR UPDATE")).
		WithArgs("jti-1").
		WillReturnRows(refreshRow(nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET used_at = $2 WHERE jti = $1")).
		WithArgs("jti-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WithArgs("jti-2", "chain-1", "acc-1", "+15551234567", "hash-2", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, err := repo.Rotate(context.Background(), "jti-1", now, successor)
	require.NoError(t, err)
	assert.Equal(t, "jti-2", next.JTI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotate_Rejections(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{"not found", sqlmock.NewRows(refreshCols), ErrTokenNotFound},
		{"used", refreshRow(now, nil), ErrTokenUsed},
		{"revoked wins over used", refreshRow(now, now), ErrTokenRevoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			repo := NewPostgresRepository(db)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err = repo.Rotate(context.Background(), "jti-1", now, successor)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRotate_NextErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(refreshRow(nil, nil))
	mock.ExpectRollback()

	_, err = repo.Rotate(context.Background(), "jti-1", time.Now(), func(*domain.RefreshToken) (*domain.RefreshToken, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRevokeChainAndSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("WHERE chain_id = $1 AND revoked_at IS NULL")).
		WithArgs("chain-1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("WHERE account_id = $1 AND revoked_at IS NULL")).
		WithArgs("acc-1", now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, repo.RevokeChain(context.Background(), "chain-1", now))
	require.NoError(t, repo.RevokeAccount(context.Background(), "acc-1", now))
	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
