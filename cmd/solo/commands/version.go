package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return writeJSON(map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
					"go":         runtime.Version(),
				})
			}
			fmt.Printf("solo %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", buildDate)
			fmt.Printf("  go:     %s\n", runtime.Version())
			return nil
		},
	}
}
