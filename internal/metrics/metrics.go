// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts recorded transactions, partitioned by kind
	// and currency.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Total number of transactions recorded",
	}, []string{"kind", "currency"})

	// TransactionRejections counts rejected transactions by error kind
	// (validation, domain, invariant, internal).
	TransactionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transaction_rejections_total",
		Help: "Transactions rejected, by reason",
	}, []string{"reason"})

	// RecordLatency tracks the full unit of work of RecordTransaction.
	RecordLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_record_latency_seconds",
		Help:    "RecordTransaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ReplayLength observes how many transactions each write replays.
	ReplayLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_replay_length",
		Help:    "Number of transactions replayed per write",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// RealizedEventsRegenerated counts realized events written by full
	// replacement.
	RealizedEventsRegenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_realized_events_regenerated_total",
		Help: "Realized events written by full replacement",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
