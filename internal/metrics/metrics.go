package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfindex_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "outcome"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfindex_runs_total",
			Help: "Pipeline runs by final status",
		},
		[]string{"status"},
	)

	DocumentsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfindex_documents_indexed_total",
			Help: "Book documents upserted into the index",
		},
	)

	DocumentsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfindex_documents_failed_total",
			Help: "Book documents that could not be built or written",
		},
	)

	SanitizedValues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfindex_sanitized_values_total",
			Help: "Non-finite vector entries replaced with 0.0",
		},
		[]string{"field"},
	)

	ColdStartBooks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfindex_cold_start_books_total",
			Help: "Books given the zero collaborative vector because they had no interactions",
		},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfindex_embedding_requests_total",
			Help: "Embedding provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfindex_circuit_breaker_state",
			Help: "Embedding provider breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)
)
