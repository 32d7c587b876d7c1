package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego policies against template resources.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled policy against each resource.
//
// A policy that fails to evaluate is reported as a warning and does not
// block. The result is not allowed when any violation has error severity.
func (e *Engine) Evaluate(ctx context.Context, operation string, resources []ResourceInput) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:     true,
		EvaluatedAt: start,
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		for _, res := range resources {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			input := map[string]any{
				"operation": operation,
				"resource":  res.toMap(),
			}

			violations, err := e.evaluatePolicy(ctx, cp, input, res.Name)
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", name).
					Str("resource", res.Name).
					Msg("Policy evaluation failed")
				result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
				continue
			}

			result.Violations = append(result.Violations, violations...)
		}
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Str("operation", operation).
		Int("resources", len(resources)).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// LoadPolicies loads, compiles and registers the policies found at paths.
// A policy with the name of an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]any, resource string) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, resource))
		}
	}

	return violations, nil
}

// createViolation creates a Violation from one element of a deny set.
func createViolation(policy *Policy, result interface{}, resource string) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Resource: resource,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Valid() {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy prepares the deny query of a policy and stores it.
// Callers hold mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if !policy.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", policy.Severity)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy: policy,
		query:  query,
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies in name order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy updated")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
