// Package metrics provides Prometheus metrics for the store bridges.
//
// Operation Metrics:
//   - obstore_operations_total: Store operations by backend, op and status
//   - obstore_operation_duration_seconds: Operation latency histogram
//
// Transfer Metrics:
//   - obstore_bytes_read_total: Payload bytes read by backend
//   - obstore_bytes_written_total: Payload bytes written by backend
//   - obstore_parts_in_flight: Concurrent multipart part uploads
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obstore_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"store", "operation", "status"},
	)

	// OperationDuration tracks store operation duration in seconds.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obstore_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	// BytesRead counts payload bytes returned to readers.
	BytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obstore_bytes_read_total",
			Help: "Total payload bytes read",
		},
		[]string{"store"},
	)

	// BytesWritten counts payload bytes accepted by writers.
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obstore_bytes_written_total",
			Help: "Total payload bytes written",
		},
		[]string{"store"},
	)

	// PartsInFlight tracks concurrent multipart part uploads.
	PartsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "obstore_parts_in_flight",
			Help: "Number of part uploads currently in flight",
		},
		[]string{"store"},
	)
)

// ObserveOperation records one completed operation with its outcome.
func ObserveOperation(storeName, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(storeName, operation, status).Inc()
	OperationDuration.WithLabelValues(storeName, operation).Observe(time.Since(start).Seconds())
}
