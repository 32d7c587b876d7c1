package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for solo.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `mapstructure:"service_version"`

	// Environment specifies the deployment environment (dev, staging, prod).
	Environment string `mapstructure:"environment"`

	// Logging contains logging configuration.
	Logging LoggingConfig `mapstructure:"logging"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `mapstructure:"level"`

	// Format specifies the log format (console, json).
	Format string `mapstructure:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `mapstructure:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `mapstructure:"enable_caller"`

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string `mapstructure:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `mapstructure:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	Endpoint string `mapstructure:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int `mapstructure:"max_export_batch_size"`

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration `mapstructure:"export_timeout"`

	// Headers are additional headers for OTLP exporter.
	Headers map[string]string `mapstructure:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `mapstructure:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	// Empty disables the endpoint while still collecting.
	ListenAddress string `mapstructure:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `mapstructure:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `mapstructure:"namespace"`

	// DefaultHistogramBuckets are the default latency buckets in seconds.
	DefaultHistogramBuckets []float64 `mapstructure:"histogram_buckets"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "solo",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stderr",
			EnableCaller: false,
			TimeFormat:   "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "",
			Path:          "/metrics",
			Namespace:     "solo",
			// Remote scripts run for seconds to tens of minutes
			DefaultHistogramBuckets: []float64{
				0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress != "" && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path is required when the metrics endpoint is enabled")
	}

	return nil
}
