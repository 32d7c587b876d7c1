package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/solo/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show recorded resource status",
		Long: `Show the status recorded in the state store for every resource, or
for one resource when a name is given.`,
		Example: `  # List all resources
  solo status

  # Show one resource as JSON
  solo status web --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var records []*engine.ResourceRecord
			if len(args) == 1 {
				rec, err := a.store.GetResource(ctx, args[0])
				if err != nil {
					return err
				}
				records = append(records, rec)
			} else {
				records, err = a.store.ListResources(ctx, limit, offset)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(records)
			}

			if len(records) == 0 {
				fmt.Println("No resources recorded")
				return nil
			}

			inFlight := false
			fmt.Printf("%-20s %-28s %-10s %-36s %s\n", "NAME", "TYPE", "STATUS", "ID", "UPDATED")
			for _, rec := range records {
				fmt.Printf("%-20s %-28s %-10s %-36s %s\n",
					rec.Name, rec.Type, statusLabel(rec.Status), rec.ResourceID, rec.UpdatedAt.Format(time.RFC3339))
				if rec.StatusReason != "" && rec.Status == engine.ResourceStatusError {
					fmt.Printf("  reason: %s\n", rec.StatusReason)
				}
				inFlight = inFlight || rec.Status.IsTransitional()
			}
			if inFlight {
				fmt.Println("* still running, or interrupted before finishing")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of resources (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of resources to skip")

	return cmd
}

// statusLabel marks statuses that are not final: * for an action still in
// flight and ? when nothing is known.
func statusLabel(s engine.ResourceStatus) string {
	switch {
	case s.IsTerminal():
		return string(s)
	case s.IsTransitional():
		return string(s) + "*"
	default:
		return string(s) + "?"
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
