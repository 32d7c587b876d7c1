package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with solo-specific fields.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		// If it's not stdout/stderr, assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: getTimeFormat(cfg.TimeFormat),
		}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default: // rfc3339
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger()
	zlog = zlog.Level(ParseLogLevel(cfg.Level))

	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{
		zlog:   zlog,
		config: cfg,
	}, nil
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetGlobal installs the logger as the package-level zerolog logger
// used by the library packages.
func (l *Logger) SetGlobal() {
	zerolog.SetGlobalLevel(ParseLogLevel(l.config.Level))
	log.Logger = l.zlog
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// WithResource adds resource identification fields to the logger.
func (l *Logger) WithResource(name, resourceType string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("resource", name).
			Str("resource_type", resourceType).
			Logger(),
		config: l.config,
	}
}

// WithHost adds the remote host to the logger.
func (l *Logger) WithHost(host string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("host", host).Logger(),
		config: l.config,
	}
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Error logs an error-level message with err attached.
func (l *Logger) Error(err error, msg string) {
	l.zlog.Error().Err(err).Msg(msg)
}

// ParseLogLevel converts a string log level to zerolog.Level.
func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// getTimeFormat returns the appropriate time format for console output.
func getTimeFormat(format string) string {
	switch format {
	case "unix":
		return "unix"
	default:
		return time.RFC3339
	}
}
