// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package linkcode

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Code format configuration.
const (
	// DefaultCodeDigits is the width of a link code unless configured otherwise.
	DefaultCodeDigits = 6

	// DefaultCodeExpiry is how long a provisioned code stays redeemable.
	DefaultCodeExpiry = 5 * time.Minute
)

// LinkCode is an outstanding one-time code bound to an expected identity.
type LinkCode struct {
	Code      string
	Identity  string     // expected identity, matched case-insensitively
	Principal *uuid.UUID // redeeming principal, set during redemption
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the code is past its expiry.
func (c *LinkCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// NewLinkCode creates a LinkCode after validating its fields.
func NewLinkCode(code, identity string, expiresAt time.Time) (*LinkCode, error) {
	if !ValidFormat(code, len(code)) || len(code) == 0 {
		return nil, oops.Code("LINK_CODE_INVALID").
			With("code_len", len(code)).
			Errorf("link code must be ASCII digits")
	}
	if strings.TrimSpace(identity) == "" {
		return nil, oops.Code("LINK_CODE_INVALID").Errorf("identity cannot be empty")
	}
	return &LinkCode{
		Code:      code,
		Identity:  identity,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// GenerateCode produces a cryptographically random code of the given
// width. Each digit is drawn independently so leading zeros are as
// likely as any other digit.
func GenerateCode(digits int) (string, error) {
	if digits < 4 || digits > 12 {
		return "", oops.Code("LINK_CODE_DIGITS_INVALID").
			With("digits", digits).
			Errorf("code width must be between 4 and 12 digits")
	}
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", oops.Code("LINK_CODE_GENERATE_FAILED").Wrap(err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// ValidFormat reports whether code is exactly digits ASCII digits.
// Malformed codes are rejected before any storage access.
func ValidFormat(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// RedeemReason classifies a failed redemption for logging.
type RedeemReason string

// Redemption failure reasons. The distinction is observability-only;
// callers branch on OK alone, never on the reason.
const (
	ReasonInvalidFormat     RedeemReason = "INVALID_FORMAT"
	ReasonNotFoundOrExpired RedeemReason = "NOT_FOUND_OR_EXPIRED"
	ReasonStoreUnavailable  RedeemReason = "STORE_UNAVAILABLE"
)

// RedemptionResult is the outcome of a redemption attempt.
type RedemptionResult struct {
	OK     bool
	Reason RedeemReason
}

// CodeRepository manages link code persistence.
type CodeRepository interface {
	// Create stores a new outstanding link code.
	Create(ctx context.Context, code *LinkCode) error

	// Redeem atomically consumes an unexpired code for the given identity
	// (case-insensitive match). The matching row is bound to principalID and
	// deleted in the same transaction. Returns ErrNotFound when no row
	// matches; any other error indicates the store is unavailable.
	Redeem(ctx context.Context, identity, code string, principalID uuid.UUID, now time.Time) error

	// DeleteExpired removes all expired codes and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// AccountRepository answers registration checks against the accounts table.
type AccountRepository interface {
	// Exists returns true if an account row exists for the identity
	// (case-insensitive).
	Exists(ctx context.Context, identity string) (bool, error)
}

// LinkRepository records the durable identity-to-principal link made on a
// successful redemption. Links are upserted, never deleted here.
type LinkRepository interface {
	Upsert(ctx context.Context, identity string, principalID uuid.UUID) error
}
