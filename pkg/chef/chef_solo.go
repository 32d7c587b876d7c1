package chef

import (
	"context"
	"errors"
	"io/fs"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/engine"
	"github.com/openfroyo/solo/pkg/remote"
	"github.com/openfroyo/solo/pkg/telemetry"
	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// Resource type names. DeprecatedTypeName is kept for old templates.
const (
	TypeName           = "Rackspace::Cloud::ChefSolo"
	DeprecatedTypeName = "OS::Heat::ChefSolo"
)

// Phase names of the create task.
const (
	PhaseBootstrap = "bootstrap"
	PhaseKitchen   = "kitchen"
	PhaseSecrets   = "secrets"
	PhaseRun       = "run"
)

// ResourceTypes returns every type name served by ChefSolo.
func ResourceTypes() []string {
	return []string{TypeName, DeprecatedTypeName}
}

// IsResourceType reports whether typeName is served by ChefSolo.
func IsResourceType(typeName string) bool {
	return typeName == TypeName || typeName == DeprecatedTypeName
}

// ChefSolo provisions a host by running chef-solo over SSH.
type ChefSolo struct {
	name     string
	typeName string
	props    *Properties
	opts     Options
	id       string

	sshConfig *ssh.Config
	dialer    ssh.Dialer
	metrics   *telemetry.Metrics
	newID     func() string

	remote  *remote.Remote
	scripts *Scripts
}

var _ engine.Resource = (*ChefSolo)(nil)

// Option configures a ChefSolo resource.
type Option func(*ChefSolo)

// WithOptions overrides the default chef settings.
func WithOptions(opts Options) Option {
	return func(c *ChefSolo) {
		c.opts = opts
	}
}

// WithSSHConfig sets the base SSH settings. Host, user and key always come
// from the resource properties.
func WithSSHConfig(cfg *ssh.Config) Option {
	return func(c *ChefSolo) {
		c.sshConfig = cfg
	}
}

// WithDialer replaces the SSH dialer built from the properties.
func WithDialer(d ssh.Dialer) Option {
	return func(c *ChefSolo) {
		c.dialer = d
	}
}

// WithMetrics records remote commands, connections and phases in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *ChefSolo) {
		c.metrics = m
	}
}

// WithIDGenerator replaces the uuid generator used on create.
func WithIDGenerator(fn func() string) Option {
	return func(c *ChefSolo) {
		c.newID = fn
	}
}

// New creates a ChefSolo resource for validated properties.
func New(name, typeName string, props *Properties, opts ...Option) (*ChefSolo, error) {
	if !IsResourceType(typeName) {
		return nil, engine.NewPermanentError("unsupported resource type "+typeName, nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(name)
	}

	c := &ChefSolo{
		name:     name,
		typeName: typeName,
		props:    props,
		opts:     DefaultOptions(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	if typeName == DeprecatedTypeName {
		log.Warn().
			Str("resource", name).
			Str("type", typeName).
			Str("replacement", TypeName).
			Msg("Resource type is deprecated")
	}

	target := remote.Target{
		Host:       props.Host,
		Username:   props.Username,
		PrivateKey: []byte(props.PrivateKey),
	}

	if c.dialer == nil {
		base := c.sshConfig
		if base == nil {
			base = ssh.DefaultConfig(props.Host, props.Username)
		}
		dialer, err := ssh.NewSSHDialer(target.SSHConfig(base))
		if err != nil {
			return nil, engine.NewPermanentError("invalid ssh settings", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(name)
		}
		c.dialer = dialer
	}

	c.remote = remote.New(target, c.dialer, remote.WithMetrics(c.metrics))
	c.scripts = NewScripts(c.remote, c.opts)
	return c, nil
}

func (c *ChefSolo) Name() string            { return c.name }
func (c *ChefSolo) Type() string            { return c.typeName }
func (c *ChefSolo) ResourceID() string      { return c.id }
func (c *ChefSolo) SetResourceID(id string) { c.id = id }

// Properties returns the redacted properties for persistence.
func (c *ChefSolo) Properties() any {
	return c.props.Redacted()
}

// Scripts returns the script set bound to this resource's host.
func (c *ChefSolo) Scripts() *Scripts {
	return c.scripts
}

// KitchenPath returns the remote kitchen directory of this resource.
func (c *ChefSolo) KitchenPath() string {
	return path.Join(c.opts.SoloPath, c.id)
}

// Create assigns a new resource ID and returns the provisioning task:
// bootstrap chef, lay out the kitchen, write secrets and data bags, then
// run chef-solo.
func (c *ChefSolo) Create(ctx context.Context) (*engine.Task, error) {
	c.id = c.newID()

	var (
		remotePath  string
		kitchenPath string
		knifePath   string
		secretPath  string
		nodePath    string
	)

	bootstrap := []engine.StepAction{
		func(ctx context.Context) (err error) {
			remotePath, err = c.remote.CreateRemoteDirectory(ctx, c.opts.SoloPath, "")
			return classify(PhaseBootstrap, err)
		},
		func(ctx context.Context) (err error) {
			kitchenPath, err = c.remote.CreateRemoteDirectory(ctx, remotePath, c.id)
			knifePath = path.Join(kitchenPath, KnifeFile)
			return classify(PhaseBootstrap, err)
		},
		func(ctx context.Context) error {
			return classify(PhaseBootstrap, c.scripts.Bootstrap(ctx, c.props.ChefVersion, kitchenPath))
		},
	}

	kitchen := []engine.StepAction{
		func(ctx context.Context) error {
			if c.props.Kitchen != "" {
				return classify(PhaseKitchen, c.scripts.CloneKitchen(ctx, c.props, kitchenPath))
			}
			return classify(PhaseKitchen, c.scripts.CreateRemoteKitchen(ctx, c.props, kitchenPath))
		},
	}

	secrets := []engine.StepAction{
		func(ctx context.Context) (err error) {
			secretPath, err = c.scripts.Databags(ctx, c.props, kitchenPath, knifePath)
			return classify(PhaseSecrets, err)
		},
		func(ctx context.Context) error {
			return classify(PhaseSecrets, c.scripts.KnifeRB(ctx, kitchenPath, knifePath, remotePath, secretPath))
		},
		func(ctx context.Context) error {
			nodes, err := c.remote.CreateRemoteDirectory(ctx, kitchenPath, NodesDir)
			if err != nil {
				return classify(PhaseSecrets, err)
			}
			node := c.props.Node
			if node == nil {
				node = map[string]any{}
			}
			nodePath, err = c.remote.WriteRemoteJSON(ctx, nodes, c.props.Host+".json", node)
			return classify(PhaseSecrets, err)
		},
	}

	run := []engine.StepAction{
		func(ctx context.Context) error {
			defer c.remote.Close()
			return classify(PhaseRun, c.scripts.RunChef(ctx, knifePath, nodePath, kitchenPath))
		},
	}

	log.Info().
		Str("resource", c.name).
		Str("resource_id", c.id).
		Str("host", c.props.Host).
		Msg("Creating chef-solo kitchen")

	return engine.NewTask([]engine.Phase{
		{Name: PhaseBootstrap, Actions: bootstrap},
		{Name: PhaseKitchen, Actions: kitchen},
		{Name: PhaseSecrets, Actions: secrets},
		{Name: PhaseRun, Actions: run},
	}, engine.WithTaskMetrics(c.metrics)), nil
}

// CheckCreateComplete starts task on the first call and reports whether it
// finished; later calls advance it by one phase.
func (c *ChefSolo) CheckCreateComplete(ctx context.Context, task *engine.Task) (bool, error) {
	if task == nil {
		return true, nil
	}
	if !task.Started() {
		if err := task.Start(ctx); err != nil {
			c.remote.Close()
			return false, err
		}
		return task.Done(), nil
	}

	done, err := task.Step(ctx)
	if err != nil {
		c.remote.Close()
	}
	return done, err
}

// Delete removes the kitchen directory of this resource from the host.
func (c *ChefSolo) Delete(ctx context.Context) error {
	if c.id == "" {
		return nil
	}
	defer c.remote.Close()

	kitchenPath := c.KitchenPath()
	if _, err := c.remote.StatRemote(ctx, kitchenPath, remote.RetryOnTransientError()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.NewNotFoundError("kitchen not found", err).
				WithResource(c.name).
				WithOperation(string(engine.ActionDelete))
		}
		return classify(string(engine.ActionDelete), err)
	}

	_, err := c.remote.ExecuteRemoteCommand(ctx, "delete_kitchen", "rm -rf "+kitchenPath, remote.WithoutSave())
	return classify(string(engine.ActionDelete), err)
}

// classify maps remote failures onto engine error classes and records the
// operation that failed.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		if engErr.Operation == "" {
			engErr.WithOperation(operation)
		}
		return err
	}

	var cmdErr *remote.CommandError
	switch {
	case errors.As(err, &cmdErr):
		return engine.NewPermanentError("remote command failed", err).
			WithCode(engine.ErrCodeCommandFailed).
			WithOperation(operation)
	case errors.Is(err, fs.ErrPermission):
		return engine.NewPermanentError("permission denied", err).
			WithCode(engine.ErrCodePermissionDenied).
			WithOperation(operation)
	case remote.IsTransient(err):
		return engine.NewTransientError("connection lost", err).
			WithCode(engine.ErrCodeConnection).
			WithOperation(operation)
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTransientError("operation timed out", err).
			WithCode(engine.ErrCodeTimeout).
			WithOperation(operation)
	}
	return engine.NewPermanentError("remote operation failed", err).WithOperation(operation)
}
