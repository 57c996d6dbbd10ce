// Package observability provides prometheus metrics and OpenTelemetry tracing setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DecisionOutcomes counts moderation decisions by outcome (clear, suspended, banned, ip_banned).
	DecisionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_moderation_decisions_total",
		Help: "Total moderation decisions by outcome",
	}, []string{"outcome"})

	// RestrictionWrites counts applied and revoked restrictions by action.
	RestrictionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_restriction_writes_total",
		Help: "Total restriction mutations by action",
	}, []string{"action"})

	// TokenGrants counts daily-grant calls by result (awarded, skipped).
	TokenGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_token_grants_total",
		Help: "Total daily token grant attempts by result",
	}, []string{"result"})

	// TokenPurchases counts entitlement purchases by result (success, already_owned, insufficient_funds, error).
	TokenPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_token_purchases_total",
		Help: "Total entitlement purchase attempts by result",
	}, []string{"result"})

	// AuditDivergences counts restriction writes whose audit append failed.
	// The trail is advisory, so the write still succeeds, but the divergence
	// must be visible.
	AuditDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murmur_audit_divergences_total",
		Help: "Restriction mutations recorded without a matching audit entry",
	})
)
