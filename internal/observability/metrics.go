package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeshare",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgeshare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeshare",
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Finished transfers by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeshare",
			Subsystem: "transfer",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes moved by finished transfers.",
		},
		[]string{"direction", "outcome"},
	)
	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgeshare",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Transfer duration from handshake to drain.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"direction", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, transfers, transferBytes, transferDuration)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordTransfer counts one finished transfer. outcome is "ok" or a failure kind.
func RecordTransfer(direction, outcome string, bytes uint64, duration time.Duration) {
	RegisterMetrics()
	transfers.WithLabelValues(direction, outcome).Inc()
	transferBytes.WithLabelValues(direction, outcome).Add(float64(bytes))
	transferDuration.WithLabelValues(direction, outcome).Observe(duration.Seconds())
}
