package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/solo/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var templateFile string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision every resource of a template",
		Long: `Provision every resource of a template with chef-solo.

Policies are checked first; in enforcing mode an error violation stops the
run before any host is touched. Resources are then created one at a time in
name order. For each resource this command:
  - Validates its properties
  - Bootstraps chef on the host and lays out the kitchen
  - Writes secrets and data bags
  - Runs chef-solo, polling until it completes or the create timeout expires
  - Records the resource status and phase events in the state store

The first failing resource stops the run.`,
		Example: `  # Apply a template
  solo apply -f stack.yaml

  # Apply with a shorter poll interval
  SOLO_ENGINE_POLL_INTERVAL=1s solo apply -f stack.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resources, err := a.loadTemplate(templateFile)
			if err != nil {
				return err
			}
			if err := checkPolicies(ctx, a.cfg.Policy, "apply", resources); err != nil {
				return err
			}

			log.Info().
				Str("template", templateFile).
				Int("resources", len(resources)).
				Msg("Applying template")

			logger := a.tel.Logger.NewComponentLogger("apply")

			for _, def := range resources {
				res, err := a.newResource(def)
				if err != nil {
					return err
				}

				start := time.Now()
				if err := a.runner.Create(ctx, res); err != nil {
					logger.WithResource(res.Name(), res.Type()).
						WithHost(def.Properties.Host).
						Error(err, "Resource create failed")
					if engine.IsRetryable(err) {
						fmt.Printf("! %s failed with a retryable error, run apply again\n", res.Name())
					}
					return err
				}

				fmt.Printf("✓ %s (%s) ready in %s, id %s\n",
					res.Name(), def.Properties.Host, time.Since(start).Round(time.Second), res.ResourceID())
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&templateFile, "file", "f", "", "template file to apply")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
