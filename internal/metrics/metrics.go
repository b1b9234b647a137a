// Package metrics provides Prometheus instrumentation for the lending risk
// service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RiskEvaluations counts account evaluations, partitioned by resulting tier.
	RiskEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_risk_evaluations_total",
		Help: "Total number of account risk evaluations",
	}, []string{"tier"})

	// HealthFactor observes evaluated health factors. Accounts without debt
	// are not observed.
	HealthFactor = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lending_health_factor",
		Help:    "Distribution of evaluated health factors for indebted accounts",
		Buckets: []float64{0.9, 1.0, 1.05, 1.1, 1.2, 1.3, 1.5, 2, 3, 5},
	})

	// TierTransitions counts tier changes between consecutive evaluations.
	TierTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_tier_transitions_total",
		Help: "Tier changes between consecutive evaluations of an account",
	}, []string{"from", "to"})

	// StressTests counts stress test runs.
	StressTests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_stress_tests_total",
		Help: "Total number of stress tests run",
	})

	// TransactionsTotal counts applied transactions by action.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_transactions_total",
		Help: "Total number of applied lending transactions",
	}, []string{"action"})

	// TransactionLatency tracks end-to-end latency of applying a transaction.
	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_transaction_latency_seconds",
		Help:    "Transaction execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// ValidationRejections counts transactions rejected by the risk check,
	// partitioned by reason.
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_validation_rejections_total",
		Help: "Transactions rejected by health factor validation",
	}, []string{"reason"})

	// LimitRejections counts transactions rejected by the limiter.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_limit_rejections_total",
		Help: "Transactions rejected by transaction limits",
	}, []string{"level"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
