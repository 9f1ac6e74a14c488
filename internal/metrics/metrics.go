// Package metrics defines the Prometheus metrics for the object storage client
// and the sidecar emulator.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Client operation metrics.
var (
	// OperationsTotal counts client operations by operation name and status.
	// Status is "OK" or the error code of the failure.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstorage_operations_total",
			Help: "Object storage client operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration observes client operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstorage_operation_duration_seconds",
			Help:    "Object storage client operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BytesUploadedTotal counts bytes written to the backend.
	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectstorage_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		},
	)

	// BytesDownloadedTotal counts bytes read from the backend.
	BytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objectstorage_bytes_downloaded_total",
			Help: "Total bytes downloaded",
		},
	)

	// DefaultBucketLookupsTotal counts sidecar default-bucket lookups by
	// result ("success", "error", "empty").
	DefaultBucketLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstorage_default_bucket_lookups_total",
			Help: "Default bucket lookups against the sidecar",
		},
		[]string{"result"},
	)
)

// Sidecar emulator HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstorage_sidecar_http_requests_total",
			Help: "Total sidecar emulator HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstorage_sidecar_http_request_duration_seconds",
			Help:    "Sidecar emulator request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstorage_sidecar_http_response_size_bytes",
			Help:    "Sidecar emulator response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// Collectors are updated whether or not they are registered, so registration
// only controls exposure. It is safe to call multiple times; subsequent calls
// are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			BytesUploadedTotal,
			BytesDownloadedTotal,
			DefaultBucketLookupsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
		)
	})
}

// ObserveOperation records one client operation.
func ObserveOperation(operation, status string, elapsed time.Duration) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// NormalizePath maps request paths to the fixed set of emulator routes so
// that unknown paths cannot inflate label cardinality.
func NormalizePath(path string) string {
	switch path {
	case "/object-storage/default-bucket", "/credential", "/token",
		"/health", "/metrics", "/openapi.json":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	return "/other"
}
