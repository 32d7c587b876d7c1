package chef

import (
	"encoding/json"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/solo/pkg/engine"
)

// Property names as they appear in templates.
const (
	PropBerksfile     = "Berksfile"
	PropBerksfileLock = "Berksfile.lock"
	PropCheffile      = "Cheffile"
	PropKitchen       = "kitchen"
	PropUsername      = "username"
	PropHost          = "host"
	PropPrivateKey    = "private_key"
	PropDataBags      = "data_bags"
	PropNode          = "node"
	PropRoles         = "roles"
	PropUsers         = "users"
	PropEnvironments  = "environments"
	PropClients       = "clients"
	PropChefVersion   = "chef_version"
)

// DefaultUsername is used when a template omits username.
const DefaultUsername = "root"

// PropertiesSchema is the CUE definition of ChefSolo properties.
const PropertiesSchema = `
#DataBagItem: {
	id:         string & !=""
	encrypted?: bool
	...
}

#ChefSolo: {
	// Berksfile installs cookbooks with berkshelf.
	"Berksfile"?: string
	// Berksfile.lock pins cookbook versions for berkshelf.
	"Berksfile.lock"?: string
	// Cheffile installs cookbooks with librarian-chef.
	"Cheffile"?: string
	// kitchen is a git URL cloned in place of a Berksfile or Cheffile.
	kitchen?: string & !=""

	username?:   string & !=""
	host:        string & !=""
	private_key: string & !=""

	data_bags?: {[string]: #DataBagItem}
	node?: {...}
	roles?: {[string]: {...}}
	users?: {[string]: {...}}
	environments?: {[string]: {...}}
	clients?: {[string]: {...}}

	chef_version?: string & !=""
}
`

// SchemaDefinition is the definition inside PropertiesSchema that
// describes a whole property set.
const SchemaDefinition = "#ChefSolo"

// Properties are the template properties of a ChefSolo resource.
type Properties struct {
	Berksfile     string `json:"Berksfile,omitempty"`
	BerksfileLock string `json:"Berksfile.lock,omitempty" validate:"excluded_without=Berksfile"`
	Cheffile      string `json:"Cheffile,omitempty"`
	Kitchen       string `json:"kitchen,omitempty"`

	Username   string `json:"username" validate:"required"`
	Host       string `json:"host" validate:"required,hostname_rfc1123|ip"`
	PrivateKey string `json:"private_key,omitempty" validate:"required"`

	DataBags     map[string]map[string]any `json:"data_bags,omitempty"`
	Node         map[string]any            `json:"node,omitempty"`
	Roles        map[string]map[string]any `json:"roles,omitempty"`
	Users        map[string]map[string]any `json:"users,omitempty"`
	Environments map[string]map[string]any `json:"environments,omitempty"`
	Clients      map[string]map[string]any `json:"clients,omitempty"`

	ChefVersion string `json:"chef_version,omitempty"`
}

// PropertiesValidator checks raw template properties against the CUE
// schema and the struct tags of Properties.
type PropertiesValidator struct {
	schema    cue.Value
	ctx       *cue.Context
	validator *validator.Validate
}

// NewPropertiesValidator compiles the properties schema.
func NewPropertiesValidator() (*PropertiesValidator, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(PropertiesSchema)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile properties schema: %w", err)
	}

	schema := val.LookupPath(cue.ParsePath(SchemaDefinition))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", SchemaDefinition, err)
	}

	return &PropertiesValidator{
		schema:    schema,
		ctx:       ctx,
		validator: validator.New(),
	}, nil
}

// Parse validates raw and decodes it into Properties.
func (v *PropertiesValidator) Parse(raw map[string]any) (*Properties, error) {
	data := v.ctx.Encode(raw)
	if err := data.Err(); err != nil {
		return nil, validationError("failed to encode properties", err)
	}

	if err := v.schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return nil, validationError("properties do not match schema", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, validationError("failed to encode properties", err)
	}

	props := &Properties{}
	if err := json.Unmarshal(encoded, props); err != nil {
		return nil, validationError("failed to decode properties", err)
	}

	if props.Username == "" {
		props.Username = DefaultUsername
	}

	if err := v.validator.Struct(props); err != nil {
		return nil, validationError("invalid properties", err)
	}

	return props, nil
}

func validationError(msg string, err error) error {
	return engine.NewPermanentError(msg, err).WithCode(engine.ErrCodeValidation)
}

// HasEncryptedDataBags reports whether any data bag item carries the
// encrypted key, regardless of its value.
func (p *Properties) HasEncryptedDataBags() bool {
	for _, item := range p.DataBags {
		if _, ok := item[encryptedKey]; ok {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe to persist: the private key is dropped and
// encrypted data bag items keep only their id.
func (p *Properties) Redacted() *Properties {
	cp := *p
	cp.PrivateKey = ""

	if p.DataBags != nil {
		cp.DataBags = make(map[string]map[string]any, len(p.DataBags))
		for name, item := range p.DataBags {
			if encrypted, _ := item[encryptedKey].(bool); encrypted {
				cp.DataBags[name] = map[string]any{"id": item["id"], encryptedKey: true}
				continue
			}
			cp.DataBags[name] = item
		}
	}

	return &cp
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
