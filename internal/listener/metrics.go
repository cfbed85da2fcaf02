package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Failure kinds counted by Metrics.
const (
	FailureMalformed = "malformed"
	FailureHandler   = "handler"
	FailureConfigure = "configure"
	FailureClose     = "close"
)

// Metrics holds the listener's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Dispatched  *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Connections prometheus.Gauge
	Sentinels   prometheus.Counter
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logfunnel_records_dispatched_total",
				Help: "Records dispatched to sink handlers",
			},
			[]string{"level"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logfunnel_dispatch_failures_total",
				Help: "Items that could not be delivered",
			},
			[]string{"kind"},
		),
		Connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "logfunnel_producer_connections",
				Help: "Open producer connections to the aggregation queue",
			},
		),
		Sentinels: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "logfunnel_sentinels_received_total",
				Help: "Termination sentinels received",
			},
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves /metrics on addr until ctx ends.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) dispatched(level record.Level) {
	if m != nil {
		m.Dispatched.WithLabelValues(level.String()).Inc()
	}
}

func (m *Metrics) failed(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) connections(open int) {
	if m != nil {
		m.Connections.Set(float64(open))
	}
}

func (m *Metrics) sentinel() {
	if m != nil {
		m.Sentinels.Inc()
	}
}
