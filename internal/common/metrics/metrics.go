// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_transitions_applied_total",
			Help: "Total number of application status transitions applied",
		},
		[]string{"transition"},
	)

	TransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_transitions_rejected_total",
			Help: "Total number of rejected transition attempts",
		},
		[]string{"transition", "error_code"},
	)

	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_invitation_tokens_issued_total",
			Help: "Total number of invitation tokens issued",
		},
	)

	TokenCollisionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_invitation_token_collisions_total",
			Help: "Total number of token generation retries after uniqueness collisions",
		},
	)

	RatingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_ratings_submitted_total",
			Help: "Total number of rating submissions by ratee type",
		},
		[]string{"ratee_type"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "engagement_request_duration_seconds",
			Help: "Duration of HTTP request processing in seconds",
		},
		[]string{"route", "method", "status"},
	)
)
