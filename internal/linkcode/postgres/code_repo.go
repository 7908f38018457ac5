// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/linkgate/linkgate/internal/linkcode"
)

// CodeRepository implements linkcode.CodeRepository using PostgreSQL.
type CodeRepository struct {
	pool PGXPool
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(pool PGXPool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// Create stores a new outstanding link code.
func (r *CodeRepository) Create(ctx context.Context, code *linkcode.LinkCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_codes (code, mc_username, expires_at, created_at)
		VALUES ($1, LOWER($2), $3, $4)
	`, code.Code, code.Identity, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		return oops.Code("LINK_CODE_CREATE_FAILED").
			With("operation", "insert link_code").
			With("identity", code.Identity).
			Wrap(err)
	}
	return nil
}

// Redeem atomically validates and consumes a code: select the matching
// unexpired row with a row lock, bind the redeeming principal, delete the
// row, commit. A concurrent redemption of the same code blocks on the row
// lock and then sees no row. Redemptions of different codes lock different
// rows and never serialize against each other.
func (r *CodeRepository) Redeem(ctx context.Context, identity, code string, principalID uuid.UUID, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return redeemFailure("begin transaction", identity, err)
	}
	// Rollback is a no-op once the transaction commits.
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // rollback after commit is expected to fail

	var storedCode string
	err = tx.QueryRow(ctx, `
		SELECT code FROM link_codes
		WHERE mc_username = LOWER($1) AND code = $2 AND expires_at > $3
		FOR UPDATE
	`, identity, code, now).Scan(&storedCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("LINK_CODE_NOT_FOUND").
			With("identity", identity).
			Wrap(linkcode.ErrNotFound)
	}
	if err != nil {
		return redeemFailure("select link_code", identity, err)
	}

	// Bind the principal before deletion so the row's final state names who
	// consumed it, even though the row is removed in the same transaction.
	if _, err := tx.Exec(ctx, `
		UPDATE link_codes SET mc_uuid = $1 WHERE code = $2
	`, principalID.String(), storedCode); err != nil {
		return redeemFailure("bind principal", identity, err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM link_codes WHERE code = $1
	`, storedCode); err != nil {
		return redeemFailure("delete link_code", identity, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return redeemFailure("commit", identity, err)
	}
	return nil
}

// DeleteExpired removes all expired codes and returns the count.
func (r *CodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM link_codes WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("LINK_CODE_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired link_codes").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// redeemFailure wraps a storage error from the redeem transaction,
// distinguishing unreachable-store failures for the logs.
func redeemFailure(operation, identity string, err error) error {
	code := "LINK_REDEEM_FAILED"
	if isUnavailable(err) {
		code = "LINK_STORE_UNAVAILABLE"
	}
	return oops.Code(code).
		With("operation", operation).
		With("identity", identity).
		Wrap(err)
}

// Compile-time interface check.
var _ linkcode.CodeRepository = (*CodeRepository)(nil)
