package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/solo/pkg/chef"
	"github.com/openfroyo/solo/pkg/engine"
	"github.com/openfroyo/solo/pkg/telemetry"
	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// Config is the harness configuration.
type Config struct {
	Chef     chef.Options   `mapstructure:"chef"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Policy   PolicyConfig   `mapstructure:"policy"`

	Logging telemetry.LoggingConfig `mapstructure:"logging"`
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`
	Metrics telemetry.MetricsConfig `mapstructure:"metrics"`
}

// SSHConfig holds connection tunables shared by every host. Host, user and
// key come from each resource's properties.
type SSHConfig struct {
	Port                  int           `mapstructure:"port" validate:"min=1,max=65535"`
	KnownHostsPath        string        `mapstructure:"known_hosts_path"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout" validate:"gt=0"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout" validate:"gte=0"`
	ConnectAttempts       int           `mapstructure:"connect_attempts" validate:"min=1"`
	ConnectRetryDelay     time.Duration `mapstructure:"connect_retry_delay" validate:"gte=0"`
}

// EngineConfig controls the create polling loop.
type EngineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	CreateTimeout time.Duration `mapstructure:"create_timeout" validate:"gte=0"`
}

// DatabaseConfig locates the resource state database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Policy modes.
const (
	PolicyModeAdvisory  = "advisory"
	PolicyModeEnforcing = "enforcing"
)

// PolicyConfig controls the policy check run before apply.
type PolicyConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Mode is enforcing to block apply on error violations, advisory to
	// only report them.
	Mode string `mapstructure:"mode" validate:"oneof=advisory enforcing"`

	// Paths are extra .rego or .json policy files and directories.
	Paths []string `mapstructure:"paths"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	base := ssh.DefaultConfig("", "")
	tel := telemetry.DefaultConfig()

	return &Config{
		Chef: chef.DefaultOptions(),
		SSH: SSHConfig{
			Port:                  base.Port,
			KnownHostsPath:        base.KnownHostsPath,
			StrictHostKeyChecking: base.StrictHostKeyChecking,
			ConnectionTimeout:     base.ConnectionTimeout,
			CommandTimeout:        base.CommandTimeout,
			ConnectAttempts:       base.ConnectAttempts,
			ConnectRetryDelay:     base.ConnectRetryDelay,
		},
		Engine: EngineConfig{
			PollInterval:  engine.DefaultPollInterval,
			CreateTimeout: engine.DefaultCreateTimeout,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    PolicyModeEnforcing,
		},
		Logging: tel.Logging,
		Tracing: tel.Tracing,
		Metrics: tel.Metrics,
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "solo.db"
	}
	return filepath.Join(home, ".solo", "solo.db")
}

// Validate checks struct constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry().Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// Telemetry returns the telemetry configuration for the CLI version.
func (c *Config) Telemetry() *telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.Logging = c.Logging
	tel.Tracing = c.Tracing
	tel.Metrics = c.Metrics
	return tel
}

// SSHBase returns the transport settings a resource starts from.
func (c *Config) SSHBase() *ssh.Config {
	cfg := ssh.DefaultConfig("", "")
	cfg.Port = c.SSH.Port
	cfg.KnownHostsPath = c.SSH.KnownHostsPath
	cfg.StrictHostKeyChecking = c.SSH.StrictHostKeyChecking
	cfg.ConnectionTimeout = c.SSH.ConnectionTimeout
	cfg.CommandTimeout = c.SSH.CommandTimeout
	cfg.ConnectAttempts = c.SSH.ConnectAttempts
	cfg.ConnectRetryDelay = c.SSH.ConnectRetryDelay
	return cfg
}
