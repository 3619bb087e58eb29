// Package metrics defines the pipeline's Prometheus metrics in one place and
// registers them with the default registry when the package is initialised.
// No pipeline component imports this package: nothing updates these metrics
// or serves Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of jobs waiting in a queue",
		},
		[]string{"queue"},
	)

	DLQDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_dlq_depth",
			Help: "Current number of jobs in a dead-letter queue",
		},
		[]string{"queue"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total number of jobs processed by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	JobProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_processing_duration_seconds",
			Help:    "Time taken to process one job at a stage, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	ValidatorScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_validator_score",
			Help:    "Distribution of validator scores assigned to records",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
		},
	)

	GeocodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_geocode_requests_total",
			Help: "Total number of geocode lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_circuit_breaker_state",
			Help: "Circuit breaker state by provider (0=closed, 1=half_open, 2=open)",
		},
		[]string{"provider"},
	)

	PublishCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_publish_cycle_duration_seconds",
			Help:    "Time taken for a full publish cycle in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
		},
	)

	PublishRowCounts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_publish_row_counts",
			Help: "Row count of each published table in the most recent successful cycle",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobProcessingDuration)
	prometheus.MustRegister(ValidatorScore)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(PublishCycleDuration)
	prometheus.MustRegister(PublishRowCounts)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
