package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/solo/pkg/config"
	"github.com/openfroyo/solo/pkg/stores"
)

const defaultConfigFile = `# solo configuration
# Every key can be overridden with SOLO_<SECTION>_<KEY>, e.g. SOLO_ENGINE_POLL_INTERVAL.

chef:
  solo_path: %s
  rubygem_path: %s
  berkshelf_version: %s
  librarian_chef_version: %s

engine:
  poll_interval: %s
  create_timeout: %s

database:
  path: %s

policy:
  enabled: true
  mode: %s
  paths: []

logging:
  level: info
  format: console
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and create the state database",
		Long: `Write solo.yaml with the default settings and create and migrate the
state database it points to.`,
		Example: `  # Initialize in the current directory
  solo init

  # Initialize with a custom config path
  solo init --config /etc/solo/solo.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.DefaultConfig()

			path := configPath
			if path == "" {
				path = "solo.yaml"
			}

			log.Info().Str("config", path).Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
			}

			content := fmt.Sprintf(defaultConfigFile,
				cfg.Chef.SoloPath,
				cfg.Chef.RubygemPath,
				cfg.Chef.BerkshelfVersion,
				cfg.Chef.LibrarianChefVersion,
				cfg.Engine.PollInterval,
				cfg.Engine.CreateTimeout,
				cfg.Database.Path,
				cfg.Policy.Mode,
			)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(cfg.Database.Path), err)
			}

			store, err := stores.Open(ctx, stores.Config{Path: cfg.Database.Path})
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", cfg.Database.Path)

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  1. Check a template:\n")
			fmt.Printf("     solo validate -f stack.yaml\n\n")
			fmt.Printf("  2. Provision it:\n")
			fmt.Printf("     solo apply -f stack.yaml\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
