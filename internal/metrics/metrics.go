package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagchat",
			Subsystem: "storage",
			Name:      "s3_operations_total",
			Help:      "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	S3Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagchat",
			Subsystem: "storage",
			Name:      "s3_duration_seconds",
			Help:      "S3 operation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	TurnsSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagchat",
			Subsystem: "chat",
			Name:      "turns_saved_total",
			Help:      "Chat turns persisted",
		},
		[]string{"role", "with_image"},
	)

	TurnsLoaded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "diagchat",
			Subsystem: "chat",
			Name:      "turns_loaded",
			Help:      "Turns returned per session load",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagchat",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Calls to the AI provider",
		},
		[]string{"operation", "model", "status"},
	)

	AIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagchat",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "AI provider call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "model"},
	)

	CleanupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagchat",
			Subsystem: "cleanup",
			Name:      "jobs_total",
			Help:      "Processed object cleanup jobs",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint string, status int, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordS3Operation records an S3 operation
func RecordS3Operation(operation string, err error, durationSec float64) {
	S3OperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	S3Duration.WithLabelValues(operation).Observe(durationSec)
}

func RecordTurnSaved(role string, withImage bool) {
	TurnsSavedTotal.WithLabelValues(role, strconv.FormatBool(withImage)).Inc()
}

func RecordTurnsLoaded(n int) {
	TurnsLoaded.Observe(float64(n))
}

func RecordAICall(operation, model string, err error, durationSec float64) {
	AIRequestsTotal.WithLabelValues(operation, model, statusLabel(err)).Inc()
	AIDuration.WithLabelValues(operation, model).Observe(durationSec)
}

func RecordCleanup(outcome string) {
	CleanupJobsTotal.WithLabelValues(outcome).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
