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
			Namespace: "taiga",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"host", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taiga",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host", "method", "path", "status"},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taiga",
			Subsystem: "host",
			Name:      "sessions_total",
			Help:      "Total accepted engine sessions.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taiga",
			Subsystem: "host",
			Name:      "sessions_active",
			Help:      "Currently active engine sessions.",
		},
	)
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taiga",
			Subsystem: "host",
			Name:      "ops_total",
			Help:      "Engine operations served, by op and outcome.",
		},
		[]string{"op", "outcome"},
	)
	yearsAdvanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taiga",
			Subsystem: "host",
			Name:      "years_advanced_total",
			Help:      "Total simulation years advanced across all sessions.",
		},
	)
)

// Op outcome labels for ops_total.
const (
	OpOutcomeOK    = "ok"
	OpOutcomeError = "error"
	OpOutcomePanic = "panic"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsTotal,
			sessionsActive,
			opsTotal,
			yearsAdvanced,
		)
	})
}

func RecordHTTPRequest(host, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(host, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(host, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionStart() {
	RegisterMetrics()
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func RecordSessionEnd() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordOp(op, outcome string) {
	RegisterMetrics()
	opsTotal.WithLabelValues(op, outcome).Inc()
}

func RecordYearAdvanced() {
	RegisterMetrics()
	yearsAdvanced.Inc()
}
