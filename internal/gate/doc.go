// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

// Package gate implements the connection authentication gate.
//
// A connecting principal is held at its lifecycle checkpoint by
// Gate.OnConnecting, which blocks the calling goroutine on a pending-auth
// entry until the outcome resolves or the challenge times out. Submission
// and disconnect callbacks arrive on other goroutines and resolve the entry
// through the Registry, which owns all per-principal gating state.
//
// The suspension is strictly per-connection: one goroutine per connecting
// principal blocks, while submissions for that principal and all activity
// for other principals keep flowing.
package gate
