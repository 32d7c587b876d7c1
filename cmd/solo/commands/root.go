package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "solo",
		Short: "solo - chef-solo provisioning over SSH",
		Long: `solo bootstraps servers over SSH and converges them with chef-solo.

A template names one or more ChefSolo resources. For each resource solo:
  - Installs chef with the omnibus installer
  - Lays out a kitchen from a Berksfile, a Cheffile or a git repository
  - Writes data bags, encrypting the ones marked encrypted
  - Runs chef-solo with the node attributes of the template

Resource state and events are kept in a local SQLite database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
