package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scour_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_sessions_ended_total",
			Help: "Total number of research sessions ended",
		},
		[]string{"status"},
	)

	OutcomesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_outcomes_recorded_total",
			Help: "Total number of lookup/backend outcomes recorded",
		},
		[]string{"component", "status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_rate_limit_hits_total",
			Help: "Total number of rate-limit hits per backend",
		},
		[]string{"backend"},
	)

	// Stage-1/Stage-2 lookup metrics
	LookupsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_lookups_dispatched_total",
			Help: "Total number of source lookups dispatched",
		},
		[]string{"source", "stage"},
	)

	LookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scour_lookup_duration_seconds",
			Help:    "Source lookup duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "stage"},
	)

	DeepDivesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_deep_dives_scheduled_total",
			Help: "Total number of Stage-2 deep dives scheduled",
		},
		[]string{"source", "lead_kind"},
	)

	// Fallback dispatcher metrics
	BackendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_backend_attempts_total",
			Help: "Total number of completion backend attempts",
		},
		[]string{"backend", "chain", "status"},
	)

	BackendSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_backend_skips_total",
			Help: "Total number of backends skipped before attempting",
		},
		[]string{"backend", "chain", "reason"},
	)

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scour_backend_call_duration_seconds",
			Help:    "Completion backend call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"backend", "chain"},
	)

	DispatchExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_dispatch_exhausted_total",
			Help: "Total number of dispatches where every backend failed or was skipped",
		},
		[]string{"chain"},
	)

	// Backoff metrics
	BackoffArmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_backoff_armed_total",
			Help: "Total number of times backoff was armed for a backend",
		},
		[]string{"backend"},
	)

	BackoffActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scour_backoff_active",
			Help: "Number of backends currently inside a backoff window",
		},
	)

	// Synthesis metrics
	SynthesisAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_synthesis_attempts_total",
			Help: "Total number of report synthesis passes",
		},
		[]string{"status"},
	)
)

// RecordLookup records one completed source lookup.
func RecordLookup(source, stage string, durationSeconds float64) {
	LookupsDispatched.WithLabelValues(source, stage).Inc()
	LookupDuration.WithLabelValues(source, stage).Observe(durationSeconds)
}

// RecordBackendAttempt records one completion backend call.
func RecordBackendAttempt(backend, chain, status string, durationSeconds float64) {
	BackendAttempts.WithLabelValues(backend, chain, status).Inc()
	if durationSeconds > 0 {
		BackendCallDuration.WithLabelValues(backend, chain).Observe(durationSeconds)
	}
}
