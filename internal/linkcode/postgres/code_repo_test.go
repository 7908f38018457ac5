// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkgate/linkgate/internal/linkcode"
	"github.com/linkgate/linkgate/pkg/errutil"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock pool")
	t.Cleanup(mock.Close)
	return mock
}

func TestCodeRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	code, err := linkcode.NewLinkCode("482913", "Alice", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO link_codes`).
		WithArgs(code.Code, code.Identity, code.ExpiresAt, code.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(ctx, code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_Create_Error(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	code, err := linkcode.NewLinkCode("482913", "Alice", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO link_codes`).
		WithArgs(code.Code, code.Identity, code.ExpiresAt, code.CreatedAt).
		WillReturnError(errors.New("duplicate key"))

	err = repo.Create(ctx, code)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "LINK_CODE_CREATE_FAILED")
}

func TestCodeRepository_Redeem_Success(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	principalID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT code FROM link_codes`).
		WithArgs("Alice", "482913", now).
		WillReturnRows(pgxmock.NewRows([]string{"code"}).AddRow("482913"))
	mock.ExpectExec(`UPDATE link_codes SET mc_uuid`).
		WithArgs(principalID.String(), "482913").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM link_codes`).
		WithArgs("482913").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Redeem(ctx, "Alice", "482913", principalID, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_Redeem_NotFound(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT code FROM link_codes`).
		WithArgs("Alice", "999999", now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Redeem(ctx, "Alice", "999999", uuid.New(), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, linkcode.ErrNotFound)
	errutil.AssertErrorCode(t, err, "LINK_CODE_NOT_FOUND")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_Redeem_BindFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	principalID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT code FROM link_codes`).
		WithArgs("Alice", "482913", now).
		WillReturnRows(pgxmock.NewRows([]string{"code"}).AddRow("482913"))
	mock.ExpectExec(`UPDATE link_codes SET mc_uuid`).
		WithArgs(principalID.String(), "482913").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Redeem(ctx, "Alice", "482913", principalID, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, linkcode.ErrNotFound)
	errutil.AssertErrorCode(t, err, "LINK_REDEEM_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_Redeem_BeginFailure(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	err := repo.Redeem(ctx, "Alice", "482913", uuid.New(), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, linkcode.ErrNotFound)
}

func TestCodeRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	repo := NewCodeRepository(mock)

	mock.ExpectExec(`DELETE FROM link_codes WHERE expires_at`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	count, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
