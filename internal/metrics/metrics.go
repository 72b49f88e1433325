// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// TradesTotal counts accepted trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_total",
		Help: "Total number of trades recorded",
	}, []string{"side"})

	// TradeLatency tracks submit latency, including the post-write replay.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_trade_latency_seconds",
		Help:    "Trade submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades refused before persistence.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_rejections_total",
		Help: "Trades rejected by validation",
	}, []string{"reason"})

	// TradesRevoked counts deleted trades.
	TradesRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_trades_revoked_total",
		Help: "Trades deleted from a ledger",
	})

	// TradeVolume tracks cumulative traded shares per symbol.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"symbol", "side"})

	// ReplayDuration tracks full-history reconciliation time.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_replay_duration_seconds",
		Help:    "Full ledger replay duration in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// ReplayTrades tracks the size of replayed histories.
	ReplayTrades = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_replay_trades",
		Help:    "Number of trades per replay",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// IntegrityErrors counts replays aborted by malformed records.
	IntegrityErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_integrity_errors_total",
		Help: "Replays aborted by malformed trade records",
	})

	// SnapshotCache counts snapshot cache lookups by result (hit, miss, error).
	SnapshotCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_snapshot_cache_total",
		Help: "Snapshot cache lookups",
	}, []string{"result"})

	// QuoteRefreshes counts quote refresh rounds by outcome.
	QuoteRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_quote_refreshes_total",
		Help: "Quote refresh rounds",
	}, []string{"result"})

	// QuoteRefreshLatency tracks the duration of a refresh round.
	QuoteRefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_quote_refresh_duration_seconds",
		Help:    "Quote refresh round duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// QuotesUnavailable counts symbols the provider could not price.
	QuotesUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_quotes_unavailable_total",
		Help: "Quote lookups that returned no usable price",
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

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
