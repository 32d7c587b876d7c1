package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/solo/pkg/engine"
)

func TestRootCommandSubcommands(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "today")

	want := []string{"init", "validate", "apply", "delete", "status", "events", "exec", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))

	valid := filepath.Join(dir, "valid.yaml")
	if err := os.WriteFile(valid, []byte(`
resources:
  web:
    type: Rackspace::Cloud::ChefSolo
    properties:
      host: 10.0.0.5
      private_key: key
`), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte(`
resources:
  web:
    type: Rackspace::Cloud::ChefSolo
    properties:
      host: 10.0.0.5
`), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid template", []string{"validate", "-f", valid}, false},
		{"missing private key", []string{"validate", "-f", invalid}, true},
		{"missing file", []string{"validate", "-f", filepath.Join(dir, "none.yaml")}, true},
		{"no file flag", []string{"validate"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand("dev", "none", "unknown")
			root.SetArgs(tt.args)

			err := root.ExecuteContext(context.Background())
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCommandPolicies(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))

	tmpl := filepath.Join(dir, "secrets.yaml")
	if err := os.WriteFile(tmpl, []byte(`
resources:
  db:
    type: Rackspace::Cloud::ChefSolo
    properties:
      host: 10.0.0.6
      private_key: key
      chef_version: 11.8.2
      data_bags:
        mysql:
          id: root
          password: hunter2
`), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"enforcing blocks plaintext secrets", nil, true},
		{"advisory reports only", map[string]string{"SOLO_POLICY_MODE": "advisory"}, false},
		{"disabled", map[string]string{"SOLO_POLICY_ENABLED": "false"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			root := newRootCommand("dev", "none", "unknown")
			root.SetArgs([]string{"validate", "-f", tmpl})

			err := root.ExecuteContext(context.Background())
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status engine.ResourceStatus
		want   string
	}{
		{engine.ResourceStatusReady, "ready"},
		{engine.ResourceStatusError, "error"},
		{engine.ResourceStatusDeleted, "deleted"},
		{engine.ResourceStatusCreating, "creating*"},
		{engine.ResourceStatusDeleting, "deleting*"},
		{engine.ResourceStatusUnknown, "unknown?"},
	}

	for _, tt := range tests {
		if got := statusLabel(tt.status); got != tt.want {
			t.Errorf("statusLabel(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
