package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/heatrank/backend/pkg/config"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
// ⭐ SSOT: collectors are registered here only
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	groupDuration *prometheus.HistogramVec
	lockConflicts *prometheus.CounterVec
	deriveFailed  *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatrank",
			Name:      "import_records_total",
			Help:      "Input records by outcome (imported, error, skipped).",
		}, []string{"import_type", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatrank",
			Name:      "import_tasks_total",
			Help:      "Finished date-group tasks by terminal status.",
		}, []string{"import_type", "status"}),
		groupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heatrank",
			Name:      "date_group_duration_seconds",
			Help:      "Write + rank + detect time per date group.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"import_type"}),
		lockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatrank",
			Name:      "date_lock_conflicts_total",
			Help:      "Imports or recomputes rejected because the date was locked.",
		}, []string{"import_type"}),
		deriveFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatrank",
			Name:      "derive_failures_total",
			Help:      "Ranking or new high passes that left derived data stale.",
		}, []string{"import_type"}),
	}

	m.registry.MustRegister(
		m.records, m.tasks, m.groupDuration, m.lockConflicts, m.deriveFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Records adds n records with the given outcome
func (m *Metrics) Records(importType, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(importType, outcome).Add(float64(n))
}

// TaskFinished counts one terminal task and observes its duration
func (m *Metrics) TaskFinished(importType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(importType, status).Inc()
	m.groupDuration.WithLabelValues(importType).Observe(d.Seconds())
}

// LockConflict counts one rejected lock attempt
func (m *Metrics) LockConflict(importType string) {
	if m == nil {
		return
	}
	m.lockConflicts.WithLabelValues(importType).Inc()
}

// DeriveFailed counts one stale derivation
func (m *Metrics) DeriveFailed(importType string) {
	if m == nil {
		return
	}
	m.deriveFailed.WithLabelValues(importType).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Server serves /metrics on its own port
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer creates the metrics endpoint server
func NewServer(cfg *config.Config, m *Metrics, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.Module("metrics"),
	}
}

// Start blocks serving until Shutdown
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting metrics server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
