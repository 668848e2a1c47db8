// Package telemetry wires the worker pool's dispatch observations into
// Prometheus metrics and, optionally, OpenTelemetry tracing spans.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goxeld"

// Metrics implements worker.Observer with a dedicated Prometheus registry,
// so a daemon embedding goxeld elsewhere never collides with its own
// default registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	activeSessions   prometheus.Gauge
}

// NewMetrics builds a Metrics with its own registry and registers the
// daemon's gauges/counters/histograms against it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total number of RPC method dispatches by method, concurrency class, and outcome.",
		}, []string{"method", "concurrency", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "RPC dispatch latency in seconds, measured from dequeue to reply.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "concurrency"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of items buffered ahead of the worker pool.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently connected sessions.",
		}),
	}
}

// ObserveDispatch implements worker.Observer.
func (m *Metrics) ObserveDispatch(method, concurrency, outcome string, d time.Duration) {
	m.dispatchTotal.WithLabelValues(method, concurrency, outcome).Inc()
	m.dispatchDuration.WithLabelValues(method, concurrency).Observe(d.Seconds())
}

// SetQueueDepth implements worker.Observer.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// SetActiveSessions records the current session count. The acceptor has no
// Observer interface of its own and no code in the daemon calls this, so
// the active_sessions gauge stays at zero unless a caller sets it.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for m's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsServer wraps the http.Server exposing /metrics so the supervisor
// can shut it down as part of ordered teardown.
type MetricsServer struct {
	srv    *http.Server
	logger *slog.Logger
}

// ServeMetrics starts an HTTP server on addr exposing m at /metrics. Bind
// failures are logged, not fatal: a daemon should not refuse to serve
// voxel edits because its metrics port is taken.
func ServeMetrics(addr string, m *Metrics, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ms := &MetricsServer{srv: srv, logger: logger}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("telemetry: metrics server failed", "addr", addr, "error", err)
		}
	}()
	return ms
}

// Shutdown stops the metrics HTTP server.
func (s *MetricsServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry: metrics server shutdown error", "error", err)
	}
}
