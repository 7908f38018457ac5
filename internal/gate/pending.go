// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// resolutionCause records how a pending entry's outcome was decided.
type resolutionCause int

const (
	causeNone resolutionCause = iota
	causeExplicit
	causeTimeout
)

// Pending is an in-flight authentication outcome for one principal: a
// single-resolution slot plus an attempt counter. The first resolution wins;
// later resolutions, including the timeout fallback, are no-ops.
type Pending struct {
	principalID uuid.UUID
	createdAt   time.Time
	done        chan struct{}

	mu          sync.Mutex
	resolved    bool
	outcome     bool
	cause       resolutionCause
	attempts    int
	promptToken string

	// validateMu serializes submissions for this principal so at most one
	// authorize call is in flight and arrival order is preserved.
	validateMu sync.Mutex
}

// resolve sets the outcome if unset. Returns true if this call resolved the
// entry, false if it was already resolved.
func (p *Pending) resolve(value bool, cause resolutionCause) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return false
	}
	p.resolved = true
	p.outcome = value
	p.cause = cause
	close(p.done)
	return true
}

// state returns the current resolution state.
func (p *Pending) state() (resolved, outcome bool, cause resolutionCause) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved, p.outcome, p.cause
}

// Registry is the pending-auth registry: a concurrency-safe mapping from
// principal to in-flight authentication state. It exclusively owns entry
// lifecycle; the gate never touches the map directly. Operations on the same
// principal are linearizable; different principals contend only on the
// short-lived map lock.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Pending
	logger  *slog.Logger
}

// NewRegistry creates a Registry with a no-op logger.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*Pending),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// NewRegistryWithLogger creates a Registry with the provided logger.
func NewRegistryWithLogger(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	r := NewRegistry()
	r.logger = logger
	return r, nil
}

// Begin creates a pending entry for the principal with an unset outcome and
// zero attempts. Fails with GATE_ALREADY_PENDING if an entry already exists;
// under correct gate usage that indicates an ordering defect, never a normal
// condition.
func (r *Registry) Begin(principalID uuid.UUID) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[principalID]; exists {
		return nil, oops.Code("GATE_ALREADY_PENDING").
			With("principal_id", principalID.String()).
			Errorf("authentication already pending for principal")
	}

	p := &Pending{
		principalID: principalID,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
	}
	r.entries[principalID] = p
	return p, nil
}

// Await blocks until the entry resolves or timeout elapses. On timeout the
// outcome auto-resolves to false; an explicit resolution racing the timer is
// safe, whichever lands first wins.
func (r *Registry) Await(p *Pending, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.resolve(false, causeTimeout)
		// The explicit resolution may have won the race after the timer
		// fired; read the slot rather than assuming false.
		<-p.done
	}

	_, outcome, _ := p.state()
	return outcome
}

// Resolve sets the principal's outcome if unset; no-op when already resolved
// or when no entry exists. Safe to call from any goroutine.
func (r *Registry) Resolve(principalID uuid.UUID, value bool) {
	if p, ok := r.lookup(principalID); ok {
		p.resolve(value, causeExplicit)
	}
}

// IncrementAttempts atomically increments and returns the principal's
// attempt count. Returns 0 when no entry exists (attempt counts start at 1).
func (r *Registry) IncrementAttempts(principalID uuid.UUID) int {
	p, ok := r.lookup(principalID)
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.attempts
}

// End removes the principal's entry unconditionally. Safe to call
// redundantly, including from a different goroutine than Begin.
func (r *Registry) End(principalID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, principalID)
}

// SetPrompt records the interaction token of the currently active prompt.
// Submissions bearing any other token are stale and must be ignored.
func (r *Registry) SetPrompt(principalID uuid.UUID, token string) {
	if p, ok := r.lookup(principalID); ok {
		p.mu.Lock()
		p.promptToken = token
		p.mu.Unlock()
	}
}

// ActivePrompt returns the active prompt token for the principal, and
// whether a pending entry exists at all.
func (r *Registry) ActivePrompt(principalID uuid.UUID) (string, bool) {
	p, ok := r.lookup(principalID)
	if !ok {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.promptToken, true
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(principalID uuid.UUID) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[principalID]
	return p, ok
}

// resolveIfPending resolves the principal's outcome and reports whether this
// call did the resolving. Used by the disconnect path to decide whether the
// connection dropped mid-challenge.
func (r *Registry) resolveIfPending(principalID uuid.UUID, value bool) bool {
	p, ok := r.lookup(principalID)
	if !ok {
		return false
	}
	return p.resolve(value, causeExplicit)
}

// lockValidation acquires the principal's validation lock, returning the
// unlock func. Returns false when no entry exists.
func (r *Registry) lockValidation(principalID uuid.UUID) (func(), bool) {
	p, ok := r.lookup(principalID)
	if !ok {
		return nil, false
	}
	p.validateMu.Lock()
	return p.validateMu.Unlock, true
}
