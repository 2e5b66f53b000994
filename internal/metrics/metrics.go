// Package metrics provides Prometheus instrumentation for the bot.
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
	// CommandsTotal counts dispatched commands by plugin slug and command.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_commands_total",
		Help: "Total number of commands dispatched",
	}, []string{"plugin", "command"})

	// ReactionsTotal counts dispatched reactions by plugin slug and action.
	ReactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_reactions_total",
		Help: "Total number of reactions dispatched",
	}, []string{"plugin", "action"})

	// WagersCreated counts wagers opened.
	WagersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spike_wagers_created_total",
		Help: "Total number of wagers opened",
	})

	// Commitments counts commit and withdraw attempts by action and result.
	Commitments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_wager_commitments_total",
		Help: "Commit and withdraw attempts on open wagers",
	}, []string{"action", "result"})

	// Settlements counts closed wagers by settlement path (full, shortfall).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_settlements_total",
		Help: "Total number of wagers settled",
	}, []string{"path"})

	// PayoutFailures counts winners that could not be paid.
	PayoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spike_payout_failures_total",
		Help: "Winner payouts that failed during settlement",
	})

	// IntegrityFaults counts reactions that matched zero or several wagers.
	IntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spike_integrity_faults_total",
		Help: "Reactions whose message matched zero or several open wagers",
	})

	// OpenWagers tracks the number of open wagers.
	OpenWagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spike_open_wagers",
		Help: "Number of currently open wagers",
	})

	// SettlementVolume tracks Spike Bucks moved by settlements.
	SettlementVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spike_settlement_volume_total",
		Help: "Cumulative Spike Bucks paid to winners",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spike_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JobRuns counts scheduled job runs by job and result.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_job_runs_total",
		Help: "Scheduled job runs",
	}, []string{"job", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spike_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spike_http_request_duration_seconds",
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
