// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

// Package linkcode implements one-time link code redemption.
//
// # Domain Types
//
// A LinkCode is a short-lived numeric credential provisioned out-of-band
// (for example by a companion chat bot) and bound to an expected identity.
// Codes are consumed exactly once: the repository's Redeem operation
// validates and deletes the row in a single transaction, so the same code
// can never authorize two principals.
//
// # Services
//
// Two layers coordinate redemption:
//   - Store - format validation, redemption, registration checks, auditing
//   - Service - the authorize flow consumed by the connection gate
//
// Both are created with constructors that validate dependencies. All
// failures collapse to a boolean outcome for callers; the taxonomy
// (invalid format, not found or expired, store unavailable) is preserved
// in logs only.
package linkcode
