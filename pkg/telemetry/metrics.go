package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for solo.
// A nil *Metrics and a disabled *Metrics are both valid no-op collectors.
type Metrics struct {
	config MetricsConfig

	// Remote command metrics
	remoteCommands        *prometheus.CounterVec
	remoteCommandDuration *prometheus.HistogramVec

	// Connection metrics
	connectionsOpened prometheus.Counter
	reconnects        prometheus.Counter

	// Task phase metrics
	taskPhases    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec

	// Resource metrics
	resourceOperations *prometheus.CounterVec
	resourceDuration   *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		remoteCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_commands_total",
				Help:      "Total number of remote commands executed",
			},
			[]string{"name", "status"},
		),
		remoteCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of remote commands in seconds",
				Buckets:   buckets,
			},
			[]string{"name"},
		),

		connectionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_opened_total",
				Help:      "Total number of remote file channels opened",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of reconnects after transient errors",
			},
		),

		taskPhases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_phases_total",
				Help:      "Total number of task phases executed",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_phase_duration_seconds",
				Help:      "Duration of task phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		resourceOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource lifecycle operations",
			},
			[]string{"type", "action", "status"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_operation_duration_seconds",
				Help:      "Duration of resource lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"type", "action"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.remoteCommands,
		m.remoteCommandDuration,
		m.connectionsOpened,
		m.reconnects,
		m.taskPhases,
		m.phaseDuration,
		m.resourceOperations,
		m.resourceDuration,
		m.errorsByClass,
	)

	return m, nil
}

// RecordRemoteCommand records a finished remote command.
func (m *Metrics) RecordRemoteCommand(name string, success bool, duration time.Duration) {
	if m == nil || m.remoteCommands == nil {
		return
	}
	m.remoteCommands.WithLabelValues(name, statusLabel(success)).Inc()
	m.remoteCommandDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordConnectionOpened counts a newly opened file channel.
func (m *Metrics) RecordConnectionOpened() {
	if m == nil || m.connectionsOpened == nil {
		return
	}
	m.connectionsOpened.Inc()
}

// RecordReconnect counts a reconnect triggered by a transient error.
func (m *Metrics) RecordReconnect() {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Inc()
}

// RecordPhase records the execution of a task phase.
func (m *Metrics) RecordPhase(phase string, success bool, duration time.Duration) {
	if m == nil || m.taskPhases == nil {
		return
	}
	m.taskPhases.WithLabelValues(phase, statusLabel(success)).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordResourceOperation records a create or delete of a resource.
func (m *Metrics) RecordResourceOperation(resourceType, action string, success bool, duration time.Duration) {
	if m == nil || m.resourceOperations == nil {
		return
	}
	m.resourceOperations.WithLabelValues(resourceType, action, statusLabel(success)).Inc()
	m.resourceDuration.WithLabelValues(resourceType, action).Observe(duration.Seconds())
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It is a no-op when metrics are disabled or no listen address is set.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	log.Debug().Str("address", m.config.ListenAddress).Msg("metrics server started")
	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
