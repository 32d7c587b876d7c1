package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks apply in enforcing mode.
	SeverityError Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Policy represents a policy rule with its Rego code. The Rego module
// must define a deny set; each element is a message string or an object
// with message and optional severity fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s (%s)", v.Severity, v.Resource, v.Message, v.Policy)
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations with error severity.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// ResourceInput is the view of a template resource policies see.
type ResourceInput struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// NewResourceInput converts props to the generic JSON shape policies query.
// Callers pass redacted properties; policies never see key material.
func NewResourceInput(name, typeName string, props any) (ResourceInput, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return ResourceInput{}, fmt.Errorf("failed to encode properties of %s: %w", name, err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ResourceInput{}, fmt.Errorf("failed to decode properties of %s: %w", name, err)
	}
	if m == nil {
		m = map[string]any{}
	}

	return ResourceInput{Name: name, Type: typeName, Properties: m}, nil
}

func (r ResourceInput) toMap() map[string]any {
	return map[string]any{
		"name":       r.Name,
		"type":       r.Type,
		"properties": r.Properties,
	}
}
