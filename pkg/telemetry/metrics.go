package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosiehq/rosie/pkg/engine"
)

const namespace = "rosie"

// Metrics provides Prometheus metrics for Rosie. A nil or disabled Metrics
// records nothing.
type Metrics struct {
	config MetricsConfig

	decisions       *prometheus.CounterVec
	discovered      *prometheus.CounterVec
	cleanupOutcomes *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	collectorErrors *prometheus.CounterVec
	backupsPruned   prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of lifecycle decisions by kind and status",
			},
			[]string{"kind", "status"},
		),
		discovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_discovered_total",
				Help:      "Total number of resources listed by collectors",
			},
			[]string{"kind"},
		),
		cleanupOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_outcomes_total",
				Help:      "Total number of cleanup outcomes by kind and status",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of evaluation and cleanup runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"phase"},
		),
		collectorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collector_errors_total",
				Help:      "Total number of collector failures by kind",
			},
			[]string{"kind"},
		),
		backupsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_pruned_total",
				Help:      "Total number of expired backups removed",
			},
		),
	}

	registry.MustRegister(
		m.decisions,
		m.discovered,
		m.cleanupOutcomes,
		m.runDuration,
		m.collectorErrors,
		m.backupsPruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDecision counts one decision record.
func (m *Metrics) RecordDecision(kind engine.Kind, status engine.Status) {
	if !m.enabled() {
		return
	}
	m.decisions.WithLabelValues(string(kind), string(status)).Inc()
}

// RecordDiscovered counts resources listed for kind.
func (m *Metrics) RecordDiscovered(kind engine.Kind, n int) {
	if !m.enabled() {
		return
	}
	m.discovered.WithLabelValues(string(kind)).Add(float64(n))
}

// RecordCleanupOutcome counts one cleanup outcome.
func (m *Metrics) RecordCleanupOutcome(kind engine.Kind, status engine.Status) {
	if !m.enabled() {
		return
	}
	m.cleanupOutcomes.WithLabelValues(string(kind), string(status)).Inc()
}

// RecordRunDuration observes the duration of a run phase.
func (m *Metrics) RecordRunDuration(phase engine.Phase, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// RecordCollectorError counts a collector failure.
func (m *Metrics) RecordCollectorError(kind engine.Kind) {
	if !m.enabled() {
		return
	}
	m.collectorErrors.WithLabelValues(string(kind)).Inc()
}

// RecordBackupsPruned counts removed backups.
func (m *Metrics) RecordBackupsPruned(n int) {
	if !m.enabled() {
		return
	}
	m.backupsPruned.Add(float64(n))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", server.Addr).Str("path", path).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
