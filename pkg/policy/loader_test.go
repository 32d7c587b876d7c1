package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoaderLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.rego":        "# Checks a.\npackage a\n",
		"nested/b.json": `{"name": "b", "rego": "package b", "enabled": true}`,
		"notes.txt":     "ignored",
		"bad.json":      "{",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	byName := make(map[string]Policy)
	for _, p := range policies {
		byName[p.Name] = p
	}
	if len(byName) != 2 {
		t.Fatalf("Expected 2 policies, got %+v", policies)
	}

	a := byName["a"]
	if a.Description != "Checks a." || a.Severity != SeverityWarning || !a.Enabled {
		t.Errorf("Unexpected rego policy: %+v", a)
	}
	if a.Source != filepath.Join(dir, "a.rego") {
		t.Errorf("Unexpected source: %s", a.Source)
	}

	b := byName["b"]
	if b.Severity != SeverityWarning || b.Rego != "package b" {
		t.Errorf("Unexpected json policy: %+v", b)
	}
}

func TestLoaderErrors(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error for a missing path")
	}

	path := filepath.Join(t.TempDir(), "unnamed.json")
	if err := os.WriteFile(path, []byte(`{"rego": "package x"}`), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
		t.Error("Expected error for a policy without a name")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{"no header", "package x\n", "", SeverityWarning},
		{"description", "# First line.\n# Second line.\npackage x\n", "First line. Second line.", SeverityWarning},
		{"severity", "# severity: error\n# Blocks.\n\npackage x\n", "Blocks.", SeverityError},
		{"comment after code", "package x\n# severity: error\n", "", SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := parseHeader(tt.content)
			if desc != tt.wantDesc {
				t.Errorf("Expected description %q, got %q", tt.wantDesc, desc)
			}
			if sev != tt.wantSeverity {
				t.Errorf("Expected severity %s, got %s", tt.wantSeverity, sev)
			}
		})
	}
}
