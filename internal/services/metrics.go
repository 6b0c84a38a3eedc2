// Package services – Prometheus instrumentation for the core engines.
//
// Counters here track dispatch outcomes, moderation matches, and lease
// transitions. Label cardinality is kept bounded: outcome/action/status
// labels only, never entity or user identifiers.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// dispatchOutcomes counts terminal execution outcomes by status and
	// failure tag ("" for success).
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_executions_total",
			Help: "Terminal command executions by status and failure tag.",
		},
		[]string{"status", "fail_tag"},
	)

	// dispatchRetries counts individual handler retry attempts.
	dispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_handler_retries_total",
			Help: "Handler invocation retries performed by the dispatch engine.",
		},
	)

	// moderationMatches counts fired moderation rules by action kind.
	moderationMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_rule_matches_total",
			Help: "String-match rule matches by configured action.",
		},
		[]string{"action"},
	)

	// leaseTransitions counts coordination lease operations by kind and result.
	leaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordination_lease_ops_total",
			Help: "Lease operations by kind (claim/heartbeat/release) and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(dispatchOutcomes, dispatchRetries, moderationMatches, leaseTransitions)
}
