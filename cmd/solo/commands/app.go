package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/chef"
	"github.com/openfroyo/solo/pkg/config"
	"github.com/openfroyo/solo/pkg/engine"
	"github.com/openfroyo/solo/pkg/stores"
	"github.com/openfroyo/solo/pkg/telemetry"
)

// buildVersion is reported as the service version in traces.
var buildVersion = "dev"

// app holds everything a command needs once the configuration is loaded.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   *stores.SQLiteStore
	schemas *config.SchemaRegistry
	props   *chef.PropertiesValidator
	runner  *engine.Runner
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader.SetConfigFile(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if used := loader.ConfigFileUsed(); used != "" {
		log.Debug().Str("config", used).Msg("Loaded configuration file")
	}
	return cfg, nil
}

// newApp loads the configuration, sets up telemetry and opens the state
// store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	telCfg := cfg.Telemetry()
	telCfg.ServiceVersion = buildVersion
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	// LOG_LEVEL caps the configured level when it is set.
	if os.Getenv("LOG_LEVEL") == "" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := stores.Open(ctx, stores.Config{Path: cfg.Database.Path})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	a := &app{
		cfg:   cfg,
		tel:   tel,
		store: store,
		runner: engine.NewRunner(
			engine.WithPollInterval(cfg.Engine.PollInterval),
			engine.WithCreateTimeout(cfg.Engine.CreateTimeout),
			engine.WithStateStore(store),
			engine.WithRunnerMetrics(tel.Metrics),
			engine.WithTracer(tel.Tracer),
		),
	}

	if err := a.loadValidators(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) loadValidators() error {
	schemas, err := config.NewSchemaRegistry()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	props, err := chef.NewPropertiesValidator()
	if err != nil {
		return fmt.Errorf("failed to load property schema: %w", err)
	}
	a.schemas = schemas
	a.props = props
	return nil
}

// loadTemplate reads, validates and resolves the template at path.
func (a *app) loadTemplate(path string) ([]config.ResolvedResource, error) {
	tmpl, err := config.LoadTemplate(path, a.schemas)
	if err != nil {
		return nil, err
	}
	if err := tmpl.Validate(a.schemas); err != nil {
		return nil, err
	}
	return tmpl.Resolve(a.props)
}

// newResource builds the ChefSolo resource for a template entry.
func (a *app) newResource(res config.ResolvedResource) (*chef.ChefSolo, error) {
	return chef.New(res.Name, res.Type, res.Properties,
		chef.WithOptions(a.cfg.Chef),
		chef.WithSSHConfig(a.cfg.SSHBase()),
		chef.WithMetrics(a.tel.Metrics),
	)
}

// Close releases the store and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := errors.Join(a.store.Close(), a.tel.Shutdown(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("Error during shutdown")
	}
}
