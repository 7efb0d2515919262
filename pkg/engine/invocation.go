package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConfigSource produces the ResolvedConfig of an invocation.
type ConfigSource interface {
	Resolve(ctx context.Context) (*ResolvedConfig, error)
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(ctx context.Context) (*ResolvedConfig, error)

// Resolve calls f.
func (f ConfigSourceFunc) Resolve(ctx context.Context) (*ResolvedConfig, error) { return f(ctx) }

// InvocationOptions are the operator inputs of one command.
type InvocationOptions struct {
	// Command is the CLI command being run, used for history and guards.
	Command string

	// Branch overrides the revision used on staging-class targets.
	Branch string

	// Hostname fully overrides the resolved hostname.
	Hostname string

	// CustomJSON is operator-supplied deployment JSON.
	CustomJSON string

	// RemoteCommand, Recipes and Mode preselect run_command inputs.
	RemoteCommand string
	Recipes       string
	Mode          RunCommandMode
}

// Services are the collaborators an invocation talks to.
type Services struct {
	ControlPlane ControlPlane
	Notifier     Notifier
	Clock        Clock
	Reporter     Reporter
	Prompter     Prompter
	Revisions    RevisionSource

	// Optional collaborators; nil disables them.
	Guard  Guard
	Leases LeaseManager
	Events EventRecorder
	Hook   CustomJSONHook

	Logger zerolog.Logger
}

// Invocation is the per-command context object. It memoizes the resolved config
// and hostname for the lifetime of one command and is never shared across commands.
type Invocation struct {
	ID      string
	Options InvocationOptions
	Services

	source   ConfigSource
	config   *ResolvedConfig
	hostname string
	revision string
}

// NewInvocation creates an invocation with a fresh id.
func NewInvocation(opts InvocationOptions, source ConfigSource, services Services) *Invocation {
	if services.Clock == nil {
		services.Clock = SystemClock{}
	}
	return &Invocation{
		ID:       uuid.New().String(),
		Options:  opts,
		Services: services,
		source:   source,
	}
}

// Config resolves the config on first use and returns the same value afterwards.
func (inv *Invocation) Config(ctx context.Context) (*ResolvedConfig, error) {
	if inv.config != nil {
		return inv.config, nil
	}
	cfg, err := inv.source.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.DeployType.Validate(); err != nil {
		return nil, NewConfigurationError("invalid deploy_type", err).WithOperation("resolve_config")
	}
	inv.config = cfg
	return cfg, nil
}

func (inv *Invocation) record(ctx context.Context, eventType, message string, data map[string]any) {
	if inv.Events != nil {
		inv.Events.Record(ctx, eventType, message, data)
	}
}

// Lifecycle event types.
const (
	EventInstanceCreated    = "instance.created"
	EventInstanceStarted    = "instance.started"
	EventInstanceOnline     = "instance.online"
	EventInstanceStopped    = "instance.stopped"
	EventInstanceDeleted    = "instance.deleted"
	EventDeploymentCreated  = "deployment.created"
	EventDeploymentFinished = "deployment.finished"
	EventCleanSkipped       = "clean.skipped"
)
