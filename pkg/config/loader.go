package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SOLO_ENGINE_POLL_INTERVAL.
const EnvPrefix = "SOLO"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence defaults < config file < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.SSH.KnownHostsPath = expandTilde(cfg.SSH.KnownHostsPath)
	for i := range cfg.Policy.Paths {
		cfg.Policy.Paths[i] = expandTilde(cfg.Policy.Paths[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("solo")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "solo"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "solo"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, cfg)

	// Unmarshal only sees env vars for keys viper knows about.
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
}

// loadConfigFile reads the explicit file, or the first solo.yaml found on
// the search path. A missing file is only an error when it was explicit.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		return nil
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	// Chef
	v.SetDefault("chef.solo_path", cfg.Chef.SoloPath)
	v.SetDefault("chef.rubygem_path", cfg.Chef.RubygemPath)
	v.SetDefault("chef.berkshelf_version", cfg.Chef.BerkshelfVersion)
	v.SetDefault("chef.librarian_chef_version", cfg.Chef.LibrarianChefVersion)
	v.SetDefault("chef.install_url", cfg.Chef.InstallURL)

	// SSH
	v.SetDefault("ssh.port", cfg.SSH.Port)
	v.SetDefault("ssh.known_hosts_path", cfg.SSH.KnownHostsPath)
	v.SetDefault("ssh.strict_host_key_checking", cfg.SSH.StrictHostKeyChecking)
	v.SetDefault("ssh.connection_timeout", cfg.SSH.ConnectionTimeout)
	v.SetDefault("ssh.command_timeout", cfg.SSH.CommandTimeout)
	v.SetDefault("ssh.connect_attempts", cfg.SSH.ConnectAttempts)
	v.SetDefault("ssh.connect_retry_delay", cfg.SSH.ConnectRetryDelay)

	// Engine
	v.SetDefault("engine.poll_interval", cfg.Engine.PollInterval)
	v.SetDefault("engine.create_timeout", cfg.Engine.CreateTimeout)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)

	// Policy
	v.SetDefault("policy.enabled", cfg.Policy.Enabled)
	v.SetDefault("policy.mode", cfg.Policy.Mode)
	v.SetDefault("policy.paths", cfg.Policy.Paths)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)
	v.SetDefault("logging.time_format", cfg.Logging.TimeFormat)

	// Tracing
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", cfg.Tracing.SamplingRate)
	v.SetDefault("tracing.max_export_batch_size", cfg.Tracing.MaxExportBatchSize)
	v.SetDefault("tracing.export_timeout", cfg.Tracing.ExportTimeout)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", cfg.Metrics.ListenAddress)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.histogram_buckets", cfg.Metrics.DefaultHistogramBuckets)
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
