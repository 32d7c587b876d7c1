package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/config"
	"github.com/openfroyo/solo/pkg/policy"
)

// checkPolicies evaluates the template resources against the built-in and
// configured policies and prints every violation. In enforcing mode a
// violation with error severity fails the check.
func checkPolicies(ctx context.Context, cfg config.PolicyConfig, operation string, resources []config.ResolvedResource) error {
	if !cfg.Enabled {
		log.Debug().Msg("Policy checks disabled")
		return nil
	}

	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return err
	}
	if len(cfg.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Paths); err != nil {
			return err
		}
	}

	inputs := make([]policy.ResourceInput, 0, len(resources))
	for _, res := range resources {
		input, err := policy.NewResourceInput(res.Name, res.Type, res.Properties.Redacted())
		if err != nil {
			return fmt.Errorf("resource %s: %w", res.Name, err)
		}
		inputs = append(inputs, input)
	}

	result, err := engine.Evaluate(ctx, operation, inputs)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, v := range result.Violations {
		fmt.Printf("! %s\n", v)
	}
	for _, w := range result.Warnings {
		log.Warn().Msg(w)
	}

	if !result.Allowed {
		if cfg.Mode == config.PolicyModeEnforcing {
			return fmt.Errorf("%d blocking policy violations", len(result.Blocking()))
		}
		log.Warn().
			Int("blocking", len(result.Blocking())).
			Msg("Blocking policy violations ignored in advisory mode")
	}
	return nil
}
