package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	var templateFile string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the kitchens of every resource of a template",
		Long: `Remove the remote kitchen of every resource of a template.

Resources are deleted in reverse name order. The resource ID is taken from
the state store, so delete works from a different process than apply.
Resources that were never created, or whose kitchen is already gone, are
skipped. Every resource is attempted; failures are reported together.`,
		Example: `  # Delete the resources of a template
  solo delete -f stack.yaml`,
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

			log.Info().
				Str("template", templateFile).
				Int("resources", len(resources)).
				Msg("Deleting template resources")

			logger := a.tel.Logger.NewComponentLogger("delete")

			var errs []error
			for i := len(resources) - 1; i >= 0; i-- {
				res, err := a.newResource(resources[i])
				if err != nil {
					errs = append(errs, err)
					continue
				}

				if err := a.runner.Delete(ctx, res); err != nil {
					logger.WithResource(res.Name(), res.Type()).
						WithHost(resources[i].Properties.Host).
						Error(err, "Resource delete failed")
					errs = append(errs, err)
					continue
				}
				fmt.Printf("✓ %s deleted\n", res.Name())
			}

			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&templateFile, "file", "f", "", "template file whose resources to delete")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
