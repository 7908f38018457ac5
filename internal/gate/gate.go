// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/linkgate/linkgate/pkg/errutil"
)

// Gating defaults.
const (
	DefaultChallengeTimeout = 60 * time.Second
	DefaultMaxAttempts      = 3
)

// User-visible disconnect reasons. Exactly two failure messages exist on
// purpose: wrong-code-with-attempts-left is a silent re-prompt, and store
// trouble is never distinguished from a bad code.
const (
	ReasonLoginFailed     = "Login failed or timed out."
	ReasonTooManyAttempts = "Too many failed login attempts."
)

// Principal identifies one connecting entity: a globally unique connection
// identity plus the external identity it claims.
type Principal struct {
	ID   uuid.UUID
	Name string
}

// PromptVariant selects which challenge presentation to show.
type PromptVariant int

const (
	PromptInitial PromptVariant = iota
	PromptRetry
)

// Authorizer validates a submitted code for a principal.
type Authorizer interface {
	Authorize(ctx context.Context, principalID uuid.UUID, identity, code string) bool
}

// Prompter presents challenges to a principal. Present returns the
// interaction token bound to the new prompt; the gate honors only
// submissions carrying the token of the prompt it last presented.
type Prompter interface {
	Present(ctx context.Context, principal Principal, variant PromptVariant) (string, error)
	Dismiss(principal Principal)
}

// Host is the connection host the gate reports terminal decisions to.
// Terminate must be idempotent: the reject path can race the unblocked
// connecting goroutine, and the first reason wins.
type Host interface {
	Terminate(principal Principal, reason string)
}

// Gate orchestrates the per-connection authentication state machine:
// suspend, challenge, validate a bounded number of submissions, and
// resolve to accept-or-reject exactly once.
type Gate struct {
	registry    *Registry
	auth        Authorizer
	prompter    Prompter
	host        Host
	timeout     time.Duration
	maxAttempts int
	metrics     *Metrics
	logger      *slog.Logger
}

// NewGate creates a Gate with the default timeout and attempt limit, a no-op
// logger, and unregistered metrics. Returns an error if any dependency is nil.
func NewGate(registry *Registry, auth Authorizer, prompter Prompter, host Host) (*Gate, error) {
	if registry == nil {
		return nil, oops.Errorf("registry is required")
	}
	if auth == nil {
		return nil, oops.Errorf("authorizer is required")
	}
	if prompter == nil {
		return nil, oops.Errorf("prompter is required")
	}
	if host == nil {
		return nil, oops.Errorf("host is required")
	}
	return &Gate{
		registry:    registry,
		auth:        auth,
		prompter:    prompter,
		host:        host,
		timeout:     DefaultChallengeTimeout,
		maxAttempts: DefaultMaxAttempts,
		metrics:     noopMetrics(),
		logger:      slog.New(slog.DiscardHandler),
	}, nil
}

// NewGateWithLogger creates a Gate with the provided logger.
func NewGateWithLogger(registry *Registry, auth Authorizer, prompter Prompter, host Host, logger *slog.Logger) (*Gate, error) {
	g, err := NewGate(registry, auth, prompter, host)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	g.logger = logger
	return g, nil
}

// SetChallengeTimeout overrides the challenge timeout.
func (g *Gate) SetChallengeTimeout(d time.Duration) error {
	if d <= 0 {
		return oops.Code("GATE_INVALID_TIMEOUT").
			With("timeout", d.String()).
			Errorf("challenge timeout must be positive")
	}
	g.timeout = d
	return nil
}

// SetMaxAttempts overrides the failed-attempt limit.
func (g *Gate) SetMaxAttempts(n int) error {
	if n < 1 {
		return oops.Code("GATE_INVALID_MAX_ATTEMPTS").
			With("max_attempts", n).
			Errorf("max attempts must be at least 1")
	}
	g.maxAttempts = n
	return nil
}

// SetMetrics attaches registered metrics.
func (g *Gate) SetMetrics(m *Metrics) {
	if m != nil {
		g.metrics = m
	}
}

// OnConnecting gates a new connecting principal. It registers a pending
// entry, presents the initial challenge, and blocks the calling goroutine
// until the outcome resolves or the challenge times out. Returns true if the
// connection may proceed. Only this one connection's progress is held; the
// caller must invoke OnConnecting from the connection's own goroutine.
func (g *Gate) OnConnecting(ctx context.Context, principal Principal) bool {
	pending, err := g.registry.Begin(principal.ID)
	if err != nil {
		// Ordering defect in the host's callback delivery. Loud log, refuse
		// this connection, and keep gating everyone else.
		errutil.LogError(g.logger, "pending entry already exists for connecting principal", err)
		g.host.Terminate(principal, ReasonLoginFailed)
		return false
	}
	defer g.registry.End(principal.ID)

	token, err := g.prompter.Present(ctx, principal, PromptInitial)
	if err != nil {
		errutil.LogError(g.logger, "failed to present challenge", oops.
			Code("GATE_PRESENT_FAILED").
			With("principal_id", principal.ID.String()).
			Wrap(err))
		g.registry.Resolve(principal.ID, false)
		g.host.Terminate(principal, ReasonLoginFailed)
		return false
	}
	g.registry.SetPrompt(principal.ID, token)

	g.logger.Info("connection suspended awaiting code",
		"event", "challenge_presented",
		"principal_id", principal.ID.String(),
		"identity", principal.Name,
	)

	ok := g.registry.Await(pending, g.timeout)

	g.prompter.Dismiss(principal)

	if !ok {
		if _, _, cause := pending.state(); cause == causeTimeout {
			g.metrics.Outcomes.WithLabelValues(OutcomeTimeout).Inc()
			g.logger.Info("challenge timed out",
				"event", "challenge_timeout",
				"principal_id", principal.ID.String(),
				"identity", principal.Name,
			)
		}
		g.host.Terminate(principal, ReasonLoginFailed)
		return false
	}

	g.metrics.Outcomes.WithLabelValues(OutcomeAuthenticated).Inc()
	g.logger.Info("connection authenticated",
		"event", "authenticated",
		"principal_id", principal.ID.String(),
		"identity", principal.Name,
	)
	return true
}

// OnSubmit handles a code submission for a principal. Submissions whose
// prompt token does not match the currently active prompt are ignored.
// Validations for the same principal are serialized; submissions for other
// principals proceed independently.
func (g *Gate) OnSubmit(ctx context.Context, principal Principal, promptToken, code string) {
	active, ok := g.registry.ActivePrompt(principal.ID)
	if !ok {
		return // gating already completed, or never started
	}
	if active != promptToken {
		g.metrics.StalePrompts.Inc()
		g.logger.Debug("ignoring submission with stale prompt token",
			"event", "stale_prompt",
			"principal_id", principal.ID.String(),
		)
		return
	}

	unlock, ok := g.registry.lockValidation(principal.ID)
	if !ok {
		return
	}
	defer unlock()

	// The outcome may have resolved while this submission waited its turn.
	pending, found := g.registry.lookup(principal.ID)
	if !found {
		return
	}
	if resolved, _, _ := pending.state(); resolved {
		return
	}

	if g.auth.Authorize(ctx, principal.ID, principal.Name, code) {
		g.registry.Resolve(principal.ID, true)
		return
	}

	g.metrics.FailedAttempts.Inc()
	attempts := g.registry.IncrementAttempts(principal.ID)
	if attempts == 0 {
		return // entry removed while validating (disconnect raced)
	}

	g.logger.Warn("failed login attempt",
		"event", "attempt_failed",
		"principal_id", principal.ID.String(),
		"identity", principal.Name,
		"attempt", attempts,
		"max_attempts", g.maxAttempts,
	)

	if attempts >= g.maxAttempts {
		g.prompter.Dismiss(principal)
		g.metrics.Outcomes.WithLabelValues(OutcomeRejected).Inc()
		// Terminate before resolving so this reason wins over the generic
		// one the unblocked connecting goroutine reports.
		g.host.Terminate(principal, ReasonTooManyAttempts)
		g.registry.Resolve(principal.ID, false)
		return
	}

	// Attempts remain: silent re-prompt with the retry variant.
	token, err := g.prompter.Present(ctx, principal, PromptRetry)
	if err != nil {
		// Leave the entry pending; the challenge timeout is the backstop.
		errutil.LogError(g.logger, "failed to re-present challenge", oops.
			Code("GATE_PRESENT_FAILED").
			With("principal_id", principal.ID.String()).
			Wrap(err))
		return
	}
	g.registry.SetPrompt(principal.ID, token)
}

// OnDisconnected cleans up after an abrupt connection close. If the
// principal was still mid-challenge the outcome resolves to false, and the
// registry entry is removed either way so reconnects can Begin again.
func (g *Gate) OnDisconnected(principal Principal) {
	if g.registry.resolveIfPending(principal.ID, false) {
		g.metrics.Outcomes.WithLabelValues(OutcomeDisconnected).Inc()
		g.logger.Info("principal disconnected mid-challenge",
			"event", "disconnected_pending",
			"principal_id", principal.ID.String(),
			"identity", principal.Name,
		)
	}
	g.registry.End(principal.ID)
}
