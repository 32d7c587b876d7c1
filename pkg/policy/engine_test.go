package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func resource(name, typeName string, props map[string]any) ResourceInput {
	return ResourceInput{Name: name, Type: typeName, Properties: props}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		PolicyDeprecatedType,
		PolicyKitchenOverrides,
		PolicyKitchenTransport,
		PolicyChefVersion,
		PolicyPlaintextSecrets,
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluateBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		resource      ResourceInput
		expectAllowed bool
		expectPolicy  []string
	}{
		{
			name: "clean resource",
			resource: resource("web", "Rackspace::Cloud::ChefSolo", map[string]any{
				"host":         "10.0.0.5",
				"chef_version": "11.8.2",
				"data_bags": map[string]any{
					"secrets": map[string]any{"id": "s1", "encrypted": true},
					"users":   map[string]any{"id": "admin", "shell": "/bin/bash"},
				},
			}),
			expectAllowed: true,
		},
		{
			name: "plaintext password",
			resource: resource("web", "Rackspace::Cloud::ChefSolo", map[string]any{
				"chef_version": "11.8.2",
				"data_bags": map[string]any{
					"app": map[string]any{"id": "db", "Password": "hunter2"},
				},
			}),
			expectAllowed: false,
			expectPolicy:  []string{PolicyPlaintextSecrets},
		},
		{
			name: "deprecated type and no chef version",
			resource: resource("web", "OS::Heat::ChefSolo", map[string]any{
				"host": "10.0.0.5",
			}),
			expectAllowed: true,
			expectPolicy:  []string{PolicyDeprecatedType, PolicyChefVersion},
		},
		{
			name: "kitchen over git protocol with a Berksfile",
			resource: resource("web", "Rackspace::Cloud::ChefSolo", map[string]any{
				"chef_version": "11.8.2",
				"kitchen":      "git://example.com/kitchen.git",
				"Berksfile":    "site :opscode",
			}),
			expectAllowed: true,
			expectPolicy:  []string{PolicyKitchenOverrides, PolicyKitchenTransport},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), "apply", []ResourceInput{tt.resource})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v: %+v", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if len(result.Warnings) != 0 {
				t.Errorf("Unexpected evaluation warnings: %v", result.Warnings)
			}
			if len(result.EvaluatedPolicies) != len(GetBuiltinPolicies()) {
				t.Errorf("Expected all built-ins to be evaluated, got %v", result.EvaluatedPolicies)
			}

			got := make(map[string]bool)
			for _, v := range result.Violations {
				got[v.Policy] = true
				if v.Resource != "web" {
					t.Errorf("Expected violation on web, got %s", v.Resource)
				}
				if v.Message == "" {
					t.Errorf("Expected a message for %s", v.Policy)
				}
			}
			if len(got) != len(tt.expectPolicy) {
				t.Errorf("Expected violations of %v, got %+v", tt.expectPolicy, result.Violations)
			}
			for _, p := range tt.expectPolicy {
				if !got[p] {
					t.Errorf("Expected a violation of %s, got %+v", p, result.Violations)
				}
			}
		})
	}
}

func TestPlaintextSecretsMessage(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), "apply", []ResourceInput{
		resource("app", "Rackspace::Cloud::ChefSolo", map[string]any{
			"chef_version": "11.8.2",
			"data_bags": map[string]any{
				"mysql": map[string]any{"id": "root", "api_key": "k"},
			},
		}),
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("Expected one blocking violation, got %+v", result.Violations)
	}
	if !strings.Contains(blocking[0].Message, "data bag mysql item root stores api_key") {
		t.Errorf("Unexpected message: %s", blocking[0].Message)
	}
	if blocking[0].Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", blocking[0].Severity)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	res := []ResourceInput{resource("web", "OS::Heat::ChefSolo", map[string]any{"chef_version": "12"})}

	if err := eng.DisablePolicy(PolicyDeprecatedType); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := eng.Evaluate(ctx, "apply", res)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations with the policy disabled, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy(PolicyDeprecatedType); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.Evaluate(ctx, "apply", res)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Errorf("Expected one violation, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for an unknown policy")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("Expected error for an unknown policy")
	}
}

func TestLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	rego := `# Hosts in the reserved range are rejected.
# severity: error
package site.policies.hosts

import rego.v1

deny contains msg if {
	startswith(input.resource.properties.host, "10.99.")
	msg := sprintf("host %s is in the reserved range", [input.resource.properties.host])
}
`
	if err := os.WriteFile(filepath.Join(dir, "reserved-hosts.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	p, err := eng.GetPolicy("reserved-hosts")
	if err != nil {
		t.Fatalf("Expected loaded policy: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity from header, got %s", p.Severity)
	}
	if p.Description != "Hosts in the reserved range are rejected." {
		t.Errorf("Unexpected description: %q", p.Description)
	}

	result, err := eng.Evaluate(context.Background(), "apply", []ResourceInput{
		resource("db", "Rackspace::Cloud::ChefSolo", map[string]any{"host": "10.99.0.1", "chef_version": "12"}),
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected the reserved host to be blocked")
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "host 10.99.0.1 is in the reserved range" {
		t.Errorf("Unexpected violations: %+v", result.Violations)
	}
}

func TestLoadPoliciesInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"syntax error", "broken.rego", "package x\n\ndeny contains msg if {"},
		{"bad severity", "loud.rego", "# severity: loud\npackage x\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write policy: %v", err)
			}
			if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
				t.Error("Expected compile error")
			}
		})
	}
}

func TestNewResourceInput(t *testing.T) {
	type props struct {
		Host    string `json:"host"`
		Kitchen string `json:"kitchen,omitempty"`
	}

	in, err := NewResourceInput("web", "Rackspace::Cloud::ChefSolo", props{Host: "10.0.0.5"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if in.Properties["host"] != "10.0.0.5" {
		t.Errorf("Unexpected properties: %v", in.Properties)
	}
	if _, ok := in.Properties["kitchen"]; ok {
		t.Error("Expected omitted fields to stay omitted")
	}

	empty, err := NewResourceInput("x", "t", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if empty.Properties == nil {
		t.Error("Expected an empty property map")
	}
}
