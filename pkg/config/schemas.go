package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/solo/pkg/chef"
)

// Built-in schema names.
const (
	SchemaTemplate = "template"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source and the definition data is checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the template schema and the
// property schema of every ChefSolo resource type.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaTemplate, builtinTemplateSchema, "#Template"); err != nil {
		return nil, err
	}
	for _, typeName := range chef.ResourceTypes() {
		if err := sr.RegisterSchema(typeName, chef.PropertiesSchema, chef.SchemaDefinition); err != nil {
			return nil, err
		}
	}

	return sr, nil
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("failed to find %s in schema %s: %w", definition, name, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := schema.Unify(dataVal).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinTemplateSchema = `
#Template: {
	// resources maps a resource name to its definition.
	resources: [=~"^[a-zA-Z0-9_.-]+$"]: #Resource
}

#Resource: {
	type:        string & !=""
	properties?: {...}
}
`
