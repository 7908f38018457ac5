// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/linkgate/linkgate/internal/linkcode"
)

// AccountRepository implements linkcode.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool PGXPool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool PGXPool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Exists returns true if an account row exists for the identity.
func (r *AccountRepository) Exists(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts WHERE LOWER(mc_username) = LOWER($1)
		)
	`, identity).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").
			With("operation", "select account existence").
			With("identity", identity).
			Wrap(err)
	}
	return exists, nil
}

// Compile-time interface check.
var _ linkcode.AccountRepository = (*AccountRepository)(nil)
