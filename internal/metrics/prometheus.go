// Package metrics provides Prometheus metrics for document generation runs
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonathan/bom-generator/internal/types"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_runs_total",
			Help: "Total number of generation runs by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bom_run_duration_seconds",
			Help:    "Wall-clock duration of generation runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bom_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// Backend call metrics
	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_backend_calls_total",
			Help: "Total number of completion calls made to the text-generation backend",
		},
		[]string{"stage", "status"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_tokens_total",
			Help: "Total tokens reported by the backend",
		},
		[]string{"direction"},
	)

	// Parts metrics
	PartsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bom_parts_resolved_total",
			Help: "Total number of parts extracted from BOM responses",
		},
	)

	PartsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bom_parts_dropped_total",
			Help: "Total number of part descriptors rejected during extraction",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "code"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bom_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// ObserveStage records the time elapsed since start for a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordCall counts one backend call and its reported token usage.
func RecordCall(stage string, usage types.Usage, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	BackendCallsTotal.WithLabelValues(stage, status).Inc()
	TokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	TokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
}

// RecordRun counts a finished run under outcome and observes its duration.
func RecordRun(outcome string, start time.Time) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(time.Since(start).Seconds())
}
