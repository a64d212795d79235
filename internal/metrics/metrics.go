// Package metrics provides Prometheus instrumentation for the benchmark engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RPCRequestsTotal counts JSON-RPC requests by method and outcome.
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bench_rpc_requests_total",
		Help: "Total JSON-RPC requests",
	}, []string{"method", "outcome"})

	// ToolCallsTotal counts tools/call dispatches by tool name and outcome.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bench_tool_calls_total",
		Help: "Total tool invocations",
	}, []string{"tool", "outcome"})

	// TradesSubmitted counts accepted trade submissions, partitioned by side.
	TradesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bench_trades_submitted_total",
		Help: "Total trades accepted",
	}, []string{"side"})

	// OracleRequestsTotal counts upstream oracle calls by sub-API and outcome.
	OracleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bench_oracle_requests_total",
		Help: "Total upstream oracle requests",
	}, []string{"api", "outcome"})

	// OracleRetries counts retried oracle attempts.
	OracleRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bench_oracle_retries_total",
		Help: "Oracle attempts that were retried",
	})

	// OracleLatency tracks upstream oracle call latency by sub-API.
	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bench_oracle_latency_seconds",
		Help:    "Upstream oracle call latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 12.0},
	}, []string{"api"})

	// ResolutionsApplied counts trades settled by the resolution engine.
	ResolutionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bench_resolutions_applied_total",
		Help: "Trades settled with a realized PnL",
	})

	// RateLimitRejections counts writes rejected by the hourly quota.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bench_rate_limit_rejections_total",
		Help: "Trade submissions rejected by rate limiting",
	})

	// WebSocketClients tracks connected activity-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bench_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bench_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bench_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades take over the underlying connection; the
// upgrader requires the wrapped writer to still expose http.Hijacker.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}
