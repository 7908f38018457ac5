// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/linkgate/linkgate/internal/linkcode"
)

// LinkRepository implements linkcode.LinkRepository using PostgreSQL.
type LinkRepository struct {
	pool PGXPool
}

// NewLinkRepository creates a new LinkRepository.
func NewLinkRepository(pool PGXPool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

// Upsert records the identity-to-principal link made by a redemption.
// A later redemption for the same identity overwrites the principal.
func (r *LinkRepository) Upsert(ctx context.Context, identity string, principalID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_links (mc_username, mc_uuid, linked_at)
		VALUES (LOWER($1), $2, $3)
		ON CONFLICT (mc_username)
		DO UPDATE SET mc_uuid = EXCLUDED.mc_uuid, linked_at = EXCLUDED.linked_at
	`, identity, principalID.String(), time.Now())
	if err != nil {
		return oops.Code("ACCOUNT_LINK_UPSERT_FAILED").
			With("operation", "upsert account_link").
			With("identity", identity).
			With("principal_id", principalID.String()).
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ linkcode.LinkRepository = (*LinkRepository)(nil)
