// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mailrecall"

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	EmbeddingFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Embedding calls served by the secondary provider",
		},
		[]string{"primary", "secondary"},
	)

	IngestOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_outcomes_total",
			Help:      "Per-email ingestion outcomes by result or failure reason",
		},
		[]string{"outcome"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Semantic search latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status"},
	)

	SearchResultsTotal = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_qualifying_results",
			Help:      "Qualifying matches per search after threshold and hydration",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "Search history appends by status",
		},
		[]string{"status"},
	)

	VectorStoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_store_operations_total",
			Help:      "Vector store calls by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)
)

var registerOnce sync.Once

// Register registers every collector on the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingFallbacksTotal,
			IngestOutcomesTotal,
			SearchDuration,
			SearchResultsTotal,
			HistoryWritesTotal,
			VectorStoreOperationsTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// Status maps an error to the status label used across collectors.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
