package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events <name>",
		Short: "Show the event log of a resource",
		Long: `Show the status changes, phase results and warnings recorded for a
resource, oldest first.`,
		Example: `  # Show events of the web resource
  solo events web

  # Show the last page as JSON
  solo events web --offset 50 --limit 50 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListEvents(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(events)
			}

			if len(events) == 0 {
				fmt.Printf("No events recorded for %s\n", args[0])
				return nil
			}

			for _, ev := range events {
				phase := ev.Phase
				if phase == "" {
					phase = "-"
				}
				fmt.Printf("%s %-7s %-16s %-10s %s\n",
					ev.Timestamp.Format(time.RFC3339), ev.Level(), ev.Type, phase, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
