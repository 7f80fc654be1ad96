// Package metrics holds the Prometheus collectors exported by reelyard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationAttempts counts external operation attempts by family and outcome class.
	OperationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelyard_operation_attempts_total",
			Help: "Total number of external operation attempts",
		},
		[]string{"family", "outcome"},
	)

	// StrategyFailures counts fallback strategies that failed.
	StrategyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelyard_strategy_failures_total",
			Help: "Total number of failed fallback strategies",
		},
		[]string{"family", "strategy", "class"},
	)

	// BreakerState is 0 closed, 1 half_open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reelyard_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half_open, 2 open)",
		},
		[]string{"family"},
	)

	// BreakerTransitions counts breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelyard_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"family", "from", "to"},
	)

	// VideosClaimed counts successful claims.
	VideosClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelyard_videos_claimed_total",
			Help: "Total number of videos claimed by this worker",
		},
	)

	// VideosRescued counts in-flight videos reset to pending.
	VideosRescued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelyard_videos_rescued_total",
			Help: "Total number of stuck videos reset to pending",
		},
	)

	// VideosRequeued counts completed videos reset for a model upgrade.
	VideosRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelyard_videos_requeued_total",
			Help: "Total number of completed videos requeued for a better model",
		},
	)

	// VideosProcessed counts pipeline runs by outcome.
	VideosProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelyard_videos_processed_total",
			Help: "Total number of videos processed",
		},
		[]string{"outcome"},
	)

	// JobsExpanded counts jobs expanded into videos.
	JobsExpanded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelyard_jobs_expanded_total",
			Help: "Total number of jobs expanded",
		},
		[]string{"kind", "outcome"},
	)

	// StageDuration tracks per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelyard_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"stage"},
	)
)
