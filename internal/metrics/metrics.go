// Package metrics provides Prometheus instrumentation for chainguard.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts full risk intelligence runs by outcome.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "analyses_total",
			Help:      "Total risk intelligence aggregations by address type.",
		},
		[]string{"address_type"},
	)

	// AnalysisDuration observes end-to-end aggregation latency.
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chainguard",
		Name:      "analysis_duration_seconds",
		Help:      "Risk intelligence aggregation duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// AnalyzerFailuresTotal counts degraded analyzer runs by analyzer name.
	AnalyzerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "analyzer_failures_total",
			Help:      "Total analyzer runs that degraded to a fallback score.",
		},
		[]string{"analyzer"},
	)

	// GuardianChecksTotal counts guardian decisions by level.
	GuardianChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "guardian_checks_total",
			Help:      "Total guardian address checks by decision level.",
		},
		[]string{"level"},
	)

	// SentinelCyclesTotal counts monitoring cycles by result.
	SentinelCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "sentinel_cycles_total",
			Help:      "Total sentinel monitoring cycles by result.",
		},
		[]string{"result"},
	)

	// SentinelCycleDuration observes monitoring cycle latency.
	SentinelCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chainguard",
		Name:      "sentinel_cycle_duration_seconds",
		Help:      "Sentinel monitoring cycle duration in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// LedgerSubmissionsTotal counts on-chain report submissions by result.
	LedgerSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "ledger_submissions_total",
			Help:      "Total on-chain report submissions by result.",
		},
		[]string{"result"},
	)

	// WatchlistSize tracks the current number of watched addresses.
	WatchlistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard",
		Name:      "watchlist_size",
		Help:      "Number of addresses currently on the sentinel watchlist.",
	})

	// ActiveWebSocketClients tracks connected alert feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		AnalysisDuration,
		AnalyzerFailuresTotal,
		GuardianChecksTotal,
		SentinelCyclesTotal,
		SentinelCycleDuration,
		LedgerSubmissionsTotal,
		WatchlistSize,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// StartRuntimeCollector periodically samples the runtime goroutine count.
// Call in a goroutine; exits when ctx is done.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
