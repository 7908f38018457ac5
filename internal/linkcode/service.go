// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package linkcode

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/linkgate/linkgate/pkg/errutil"
)

// Service runs the authorize flow: redeem a submitted code and, on success,
// persist the identity-to-principal link.
type Service struct {
	store  *Store
	links  LinkRepository
	logger *slog.Logger
}

// NewService creates a Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(store *Store, links LinkRepository) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("code store is required")
	}
	if links == nil {
		return nil, oops.Errorf("link repository is required")
	}
	return &Service{
		store:  store,
		links:  links,
		logger: slog.New(slog.DiscardHandler),
	}, nil
}

// NewServiceWithLogger creates a Service with the provided logger.
func NewServiceWithLogger(store *Store, links LinkRepository, logger *slog.Logger) (*Service, error) {
	s, err := NewService(store, links)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	s.logger = logger
	return s, nil
}

// Authorize redeems a submitted code for the claimed identity on behalf of
// the connecting principal. Returns true only if the code was consumed.
//
// A failed link write after a successful redemption still reports success:
// the code is gone and must not become redeemable again, so the missing link
// is a degraded-but-safe outcome, not a rollback candidate.
func (s *Service) Authorize(ctx context.Context, principalID uuid.UUID, identity, code string) bool {
	result := s.store.Redeem(ctx, identity, code, principalID, time.Now())
	if !result.OK {
		s.logger.Info("authorization denied",
			"event", "authorize_denied",
			"identity", identity,
			"principal_id", principalID.String(),
			"reason", string(result.Reason),
		)
		return false
	}

	if err := s.links.Upsert(ctx, identity, principalID); err != nil {
		errutil.LogError(s.logger, "account link write failed after redemption", oops.
			Code("LINK_UPSERT_FAILED").
			With("identity", identity).
			With("principal_id", principalID.String()).
			Wrap(err))
	}

	s.logger.Info("authorization granted",
		"event", "authorize_granted",
		"identity", identity,
		"principal_id", principalID.String(),
	)
	return true
}

// IsIdentityRegistered reports whether the identity has an account.
func (s *Service) IsIdentityRegistered(ctx context.Context, identity string) bool {
	return s.store.IsIdentityRegistered(ctx, identity)
}
