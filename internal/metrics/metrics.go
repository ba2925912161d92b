// Package metrics provides Prometheus instrumentation for the
// trade-execution engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders reaching a terminal or near-terminal
	// status, partitioned by outcome status. Replaces the teacher's
	// side-only TradesTotal now that orders have a full lifecycle.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictionmkt_orders_total",
		Help: "Total number of orders processed, by terminal status",
	}, []string{"status"})

	// OrderLatency is the wall-clock time from ExecuteMarketOrder's call
	// to the order reaching a terminal state.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictionmkt_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictionmkt_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictionmkt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictionmkt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictionmkt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// RateLimitRejections counts requests rejected by the token-bucket
	// rate limiter, by principal type (e.g. "user", "ip"). Generalizes
	// the teacher's position-limit rejection counter to the new
	// per-principal rate limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictionmkt_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"identifier_kind"})

	// LedgerAppendDuplicates counts ledger appends short-circuited by a
	// duplicate nonce — an idempotent replay, not a failure.
	LedgerAppendDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictionmkt_ledger_append_duplicates_total",
		Help: "Ledger appends short-circuited by a duplicate nonce",
	})

	// MarketVolume tracks cumulative filled share volume per market and
	// outcome.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictionmkt_market_volume_total",
		Help: "Cumulative filled trade volume in shares",
	}, []string{"market_id", "outcome"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The raw request path is the path label; it is not collapsed to
		// the route pattern, so each distinct ID in a path is its own
		// label value.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
