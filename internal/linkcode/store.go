// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package linkcode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Store is the code store: it validates code format, delegates atomic
// redemption to the repository, and answers registration checks. Every
// redemption attempt is recorded as an audit event.
type Store struct {
	codes    CodeRepository
	accounts AccountRepository
	digits   int
	logger   *slog.Logger
}

// NewStore creates a Store with a no-op logger and the default code width.
// Returns an error if any required dependency is nil.
func NewStore(codes CodeRepository, accounts AccountRepository) (*Store, error) {
	if codes == nil {
		return nil, oops.Errorf("code repository is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	return &Store{
		codes:    codes,
		accounts: accounts,
		digits:   DefaultCodeDigits,
		logger:   slog.New(slog.DiscardHandler),
	}, nil
}

// NewStoreWithLogger creates a Store with the provided logger.
func NewStoreWithLogger(codes CodeRepository, accounts AccountRepository, logger *slog.Logger) (*Store, error) {
	s, err := NewStore(codes, accounts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	s.logger = logger
	return s, nil
}

// SetCodeDigits overrides the expected code width. Widths outside 4..12
// are rejected; the default stays in effect.
func (s *Store) SetCodeDigits(digits int) error {
	if digits < 4 || digits > 12 {
		return oops.Code("LINK_CODE_DIGITS_INVALID").
			With("digits", digits).
			Errorf("code width must be between 4 and 12 digits")
	}
	s.digits = digits
	return nil
}

// CodeDigits returns the configured code width.
func (s *Store) CodeDigits() int {
	return s.digits
}

// Issue provisions a fresh one-time code for the identity, valid for
// ttl from now. The generated code is returned so it can be delivered
// out of band.
func (s *Store) Issue(ctx context.Context, identity string, ttl time.Duration) (*LinkCode, error) {
	if ttl <= 0 {
		ttl = DefaultCodeExpiry
	}
	code, err := GenerateCode(s.digits)
	if err != nil {
		return nil, err
	}
	lc, err := NewLinkCode(code, identity, time.Now().Add(ttl))
	if err != nil {
		return nil, err
	}
	if err := s.codes.Create(ctx, lc); err != nil {
		return nil, oops.Code("LINK_CODE_ISSUE_FAILED").
			With("identity", identity).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "link code issued",
		"event", "code_issued",
		"event_id", ulid.Make().String(),
		"identity", identity,
		"expires_at", lc.ExpiresAt,
	)
	return lc, nil
}

// Redeem validates and consumes a code for the given identity.
// Malformed codes fail fast without touching storage. Well-formed codes are
// redeemed atomically: either the row is gone and the principal was bound to
// it, or nothing changed. Concurrent attempts at the same code yield exactly
// one success.
func (s *Store) Redeem(ctx context.Context, identity, code string, principalID uuid.UUID, now time.Time) RedemptionResult {
	if !ValidFormat(code, s.digits) {
		result := RedemptionResult{OK: false, Reason: ReasonInvalidFormat}
		s.audit(ctx, identity, principalID, result)
		return result
	}

	err := s.codes.Redeem(ctx, identity, code, principalID, now)
	if err != nil {
		result := RedemptionResult{OK: false, Reason: ReasonNotFoundOrExpired}
		if !errors.Is(err, ErrNotFound) {
			// Store failure. Deliberately indistinguishable from a miss for
			// the caller; the reason survives in logs only.
			result.Reason = ReasonStoreUnavailable
			s.logger.Error("link code store unavailable",
				"event", "redeem_store_error",
				"identity", identity,
				"error", err.Error(),
			)
		}
		s.audit(ctx, identity, principalID, result)
		return result
	}

	result := RedemptionResult{OK: true}
	s.audit(ctx, identity, principalID, result)
	return result
}

// IsIdentityRegistered reports whether an account row exists for identity.
// Store failures surface as false rather than an error.
func (s *Store) IsIdentityRegistered(ctx context.Context, identity string) bool {
	exists, err := s.accounts.Exists(ctx, identity)
	if err != nil {
		s.logger.Error("registration check failed",
			"event", "registration_check_error",
			"identity", identity,
			"error", err.Error(),
		)
		return false
	}
	return exists
}

// audit records a redemption attempt. Events carry a ULID so downstream
// log pipelines can correlate retries for the same principal.
func (s *Store) audit(ctx context.Context, identity string, principalID uuid.UUID, result RedemptionResult) {
	args := []any{
		"event", "code_redemption",
		"event_id", ulid.Make().String(),
		"identity", identity,
		"principal_id", principalID.String(),
		"ok", result.OK,
	}
	if !result.OK {
		args = append(args, "reason", string(result.Reason))
	}
	s.logger.InfoContext(ctx, "link code redemption attempt", args...)
}
