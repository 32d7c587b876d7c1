package telemetry

import (
	"context"
	"errors"
)

// Telemetry bundles the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
// The logger is installed as the global zerolog logger.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal()

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Shutdown flushes pending spans and stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
	)
}
