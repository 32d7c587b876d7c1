package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// severityDirective sets the default severity of a .rego file, e.g.
// "# severity: error".
const severityDirective = "severity:"

// Loader handles loading policies from files and directories.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Debug().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return allPolicies, nil
}

// loadFromPath loads policies from a single path (file or directory).
func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads all .rego and .json files below dirPath. Files
// that fail to load are logged and skipped.
func (l *Loader) loadFromDirectory(dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, ".json") {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile loads a policy from a single file.
func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy = l.parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = l.parseJSONFile(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	policy.Source = filePath

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

// parseRegoFile parses a .rego file into a Policy named after the file.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	description, severity := parseHeader(string(data))

	return &Policy{
		Name:        name,
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
	}
}

// parseJSONFile parses a JSON policy definition.
func (l *Loader) parseJSONFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	return &policy, nil
}

// parseHeader reads the leading comment block of a Rego file. Comment
// lines form the description, except a severity directive.
func parseHeader(content string) (string, Severity) {
	var description strings.Builder
	severity := SeverityWarning

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if value, ok := strings.CutPrefix(comment, severityDirective); ok {
			severity = Severity(strings.TrimSpace(value))
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity
}
