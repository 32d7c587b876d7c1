package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/solo/pkg/chef"
	"github.com/openfroyo/solo/pkg/engine"
)

// Template is a set of named resources read from YAML:
//
//	resources:
//	  web:
//	    type: Rackspace::Cloud::ChefSolo
//	    properties:
//	      host: 10.0.0.5
//	      private_key: ...
type Template struct {
	Resources map[string]ResourceDefinition `yaml:"resources"`
}

// ResourceDefinition is one entry of a template.
type ResourceDefinition struct {
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

// ResolvedResource is a template resource with validated properties.
type ResolvedResource struct {
	Name       string
	Type       string
	Properties *chef.Properties
}

// LoadTemplate reads and parses the template at path.
func LoadTemplate(path string, sr *SchemaRegistry) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return ParseTemplate(data, sr)
}

// ParseTemplate decodes a YAML template and checks its shape against the
// template schema. Resource properties are checked by Validate and Resolve.
func ParseTemplate(data []byte, sr *SchemaRegistry) (*Template, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if raw == nil {
		return nil, errors.New("template is empty")
	}

	if err := sr.ValidateAgainstSchema(SchemaTemplate, raw); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	if len(tmpl.Resources) == 0 {
		return nil, errors.New("template defines no resources")
	}

	return &tmpl, nil
}

// Names returns the resource names in sorted order.
func (t *Template) Names() []string {
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every resource type and property set against the
// registry and reports all failures together.
func (t *Template) Validate(sr *SchemaRegistry) error {
	var errs []error
	for _, name := range t.Names() {
		def := t.Resources[name]

		if _, ok := sr.GetSchema(def.Type); !ok || !chef.IsResourceType(def.Type) {
			errs = append(errs, fmt.Errorf("resource %s: unknown resource type %q", name, def.Type))
			continue
		}

		if err := sr.ValidateAgainstSchema(def.Type, propertiesOf(def)); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve parses the properties of every resource in name order.
func (t *Template) Resolve(v *chef.PropertiesValidator) ([]ResolvedResource, error) {
	resolved := make([]ResolvedResource, 0, len(t.Resources))
	for _, name := range t.Names() {
		def := t.Resources[name]

		if !chef.IsResourceType(def.Type) {
			return nil, engine.NewPermanentError(fmt.Sprintf("unknown resource type %q", def.Type), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(name)
		}

		props, err := v.Parse(propertiesOf(def))
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", name, err)
		}

		resolved = append(resolved, ResolvedResource{
			Name:       name,
			Type:       def.Type,
			Properties: props,
		})
	}
	return resolved, nil
}

func propertiesOf(def ResourceDefinition) map[string]any {
	if def.Properties == nil {
		return map[string]any{}
	}
	return def.Properties
}
