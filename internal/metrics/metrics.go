package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_gate_decisions_total",
			Help: "Authorization gate decisions by rule and decision",
		},
		[]string{"rule", "decision"},
	)

	RefreshOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_total",
			Help: "Refresh token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_login_attempts_total",
			Help: "Login attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ForcedSignOuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_forced_signouts_total",
			Help: "Sessions signed out without user action, by notice",
		},
		[]string{"notice"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_active_sessions",
			Help: "Sessions currently held in the registry",
		},
	)
)
