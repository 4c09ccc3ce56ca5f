// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

var (
	// RateLimitDecisions counts limiter checks per pool and outcome.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_ratelimit_decisions_total",
		Help: "Rate limiter checks by pool and outcome",
	}, []string{"pool", "outcome"})

	// RateLimitEvictions counts keys dropped from a limiter's cache. Each one
	// is a client whose quota silently reset.
	RateLimitEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_ratelimit_evictions_total",
		Help: "Keys evicted from rate limiter caches",
	}, []string{"pool"})

	// CORSDenied counts requests carrying an Origin that was not allowed.
	CORSDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_cors_denied_total",
		Help: "Requests with a disallowed Origin header",
	})

	// InvitationOps counts invitation lifecycle operations.
	InvitationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_invitation_operations_total",
		Help: "Invitation operations by kind and outcome",
	}, []string{"op", "outcome"})

	// InvitationRejections breaks invalid invitation checks down by reason.
	InvitationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_invitation_rejections_total",
		Help: "Invitation validations that failed, by reason",
	}, []string{"reason"})

	// HousekeepingDeleted counts expired records removed by housekeeping.
	HousekeepingDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_housekeeping_deleted_total",
		Help: "Expired verification records removed",
	})
)
