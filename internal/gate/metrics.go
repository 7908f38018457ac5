// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package gate

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for the gate outcome counter.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeTimeout       = "timeout"
	OutcomeDisconnected  = "disconnected"
)

// Metrics contains Prometheus metrics for the connection gate.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	FailedAttempts prometheus.Counter
	StalePrompts   prometheus.Counter
}

// NewMetrics creates and registers gate metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_auth_outcomes_total",
				Help: "Total gated connections by final outcome",
			},
			[]string{"outcome"},
		),
		FailedAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_failed_attempts_total",
				Help: "Total failed code submissions across all principals",
			},
		),
		StalePrompts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_stale_prompt_submissions_total",
				Help: "Total submissions ignored for carrying a stale prompt token",
			},
		),
	}

	reg.MustRegister(m.Outcomes)
	reg.MustRegister(m.FailedAttempts)
	reg.MustRegister(m.StalePrompts)

	return m
}

// noopMetrics returns metrics bound to a throwaway registry, for gates
// constructed without observability.
func noopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
