package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/solo/pkg/chef"
	"github.com/openfroyo/solo/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var templateFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a template without touching any host",
		Long: `Validate a template against the template schema and the property
schema of each resource type.

This command checks:
  - YAML syntax and the template layout
  - Resource names and types
  - Resource properties (CUE schema and field constraints)
  - Built-in and configured Rego policies`,
		Example: `  # Validate a template
  solo validate -f stack.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debug().Str("template", templateFile).Msg("Validating template")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			schemas, err := config.NewSchemaRegistry()
			if err != nil {
				return err
			}
			props, err := chef.NewPropertiesValidator()
			if err != nil {
				return err
			}

			tmpl, err := config.LoadTemplate(templateFile, schemas)
			if err != nil {
				return err
			}
			if err := tmpl.Validate(schemas); err != nil {
				return err
			}
			resources, err := tmpl.Resolve(props)
			if err != nil {
				return err
			}

			if err := checkPolicies(cmd.Context(), cfg.Policy, "validate", resources); err != nil {
				return err
			}

			fmt.Printf("✓ Template valid: %d resources\n", len(resources))
			return nil
		},
	}

	cmd.Flags().StringVarP(&templateFile, "file", "f", "", "template file to validate")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
