// Package metrics provides Prometheus metrics collectors for the platform.
//
// Purpose:
//
//	This package defines and exports Prometheus metrics for authentication,
//	document ingestion and chat orchestration. Metrics are registered globally
//	and exposed via the shared server's /metrics endpoint.
//
// Dependencies:
//   - github.com/prometheus/client_golang/prometheus: Prometheus Go client
//
// Usage:
//
//	Metrics are automatically registered when the package is imported.
//	Use the exported helpers to record values:
//	  metrics.RecordAuthFailure("password", "invalid_credentials")
//	  metrics.RecordIngestResult("completed")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "faqforge"

var (
	// HTTPRequestDuration measures request latency by route and status class.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	// AuthAttemptsTotal counts authentication attempts by method and result.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total number of authentication attempts by method and result",
		},
		[]string{"method", "result"}, // method: password, refresh, hmac; result: success, failure
	)

	// AuthFailuresTotal counts authentication failures by method and reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication failures by method and reason",
		},
		[]string{"method", "reason"},
	)

	// DocumentsIngestedTotal counts documents by terminal status.
	DocumentsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents processed by terminal status",
		},
		[]string{"status"}, // status: completed, failed
	)

	// IngestFailuresTotal counts ingestion failures by error code.
	IngestFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of ingestion failures by error code",
		},
		[]string{"error_code"},
	)

	// ChunksEmbeddedTotal counts chunks successfully embedded and upserted.
	ChunksEmbeddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_embedded_total",
			Help:      "Total number of chunks embedded and upserted",
		},
	)

	// IngestDurationSeconds measures end-to-end document processing time.
	IngestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "End-to-end document processing time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// EventPublishFailuresTotal counts bus publish failures routed to the outbox.
	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Total number of event publish failures by topic",
		},
		[]string{"topic"},
	)

	// OutboxRetriesTotal counts outbox republish attempts by result.
	OutboxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "outbox_retries_total",
			Help:      "Total number of outbox republish attempts by result",
		},
		[]string{"result"},
	)

	// ChatQueriesTotal counts chat queries by result.
	ChatQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "queries_total",
			Help:      "Total number of chat queries by result",
		},
		[]string{"result"}, // result: answered, empty_sources, failed
	)

	// RetrievalLatencySeconds measures vector retrieval latency.
	RetrievalLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "retrieval_latency_seconds",
			Help:      "Vector retrieval latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordAuthSuccess records a successful authentication attempt.
func RecordAuthSuccess(method string) {
	AuthAttemptsTotal.WithLabelValues(method, "success").Inc()
}

// RecordAuthFailure records a failed authentication attempt with its reason.
func RecordAuthFailure(method, reason string) {
	AuthAttemptsTotal.WithLabelValues(method, "failure").Inc()
	AuthFailuresTotal.WithLabelValues(method, reason).Inc()
}

// RecordIngestResult records a document reaching a terminal status.
func RecordIngestResult(status string, elapsed time.Duration) {
	DocumentsIngestedTotal.WithLabelValues(status).Inc()
	IngestDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordIngestFailure records an ingestion failure by error code.
func RecordIngestFailure(errorCode string) {
	IngestFailuresTotal.WithLabelValues(errorCode).Inc()
}
