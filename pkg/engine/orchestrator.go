package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLeaseTTL bounds how long an advisory lease outlives a crashed holder.
// A live holder renews it every minute while polling.
const DefaultLeaseTTL = time.Hour

// Orchestrator composes the poller, dispatcher and control-plane calls into the
// instance and deployment workflows of one invocation.
type Orchestrator struct {
	inv    *Invocation
	poller *Poller
	logger zerolog.Logger

	dispatcher  *Dispatcher
	diagnostics *Diagnostics

	lease      Lease
	leaseDepth int
}

// NewOrchestrator creates an orchestrator bound to inv.
func NewOrchestrator(inv *Invocation) *Orchestrator {
	return &Orchestrator{
		inv:    inv,
		poller: NewPoller(inv.Clock, inv.Notifier, inv.Reporter),
		logger: inv.Logger.With().Str("component", "orchestrator").Str("invocation_id", inv.ID).Logger(),
	}
}

// Invocation returns the invocation the orchestrator is bound to.
func (o *Orchestrator) Invocation() *Invocation { return o.inv }

// begin resolves the config and, for mutating workflows, takes the advisory lease.
// The returned release func must always be called.
func (o *Orchestrator) begin(ctx context.Context, operation string, mutating bool) (*ResolvedConfig, func(), error) {
	cfg, err := o.inv.Config(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	if o.dispatcher == nil {
		o.diagnostics = NewDiagnostics(o.inv.ControlPlane, o.inv.Notifier, o.inv.Reporter, cfg.CommandLogLines, o.inv.Logger)
		o.dispatcher = NewDispatcher(o.inv.ControlPlane, o.poller, o.diagnostics, o.inv.Reporter, o.inv.Events, o.inv.Logger)
	}

	o.logger.Info().
		Str("operation", operation).
		Str("environment", cfg.Environment).
		Str("deploy_type", string(cfg.DeployType)).
		Msg("starting workflow")

	if !mutating || !cfg.AdvisoryLock || o.inv.Leases == nil {
		return cfg, func() {}, nil
	}

	if o.leaseDepth == 0 {
		key := cfg.StackID + "/" + cfg.LayerID
		lease, err := o.inv.Leases.Acquire(ctx, key, o.inv.ID, DefaultLeaseTTL)
		if err != nil {
			return nil, func() {}, err
		}
		o.lease = lease
		o.poller.SetHeartbeat(func(ctx context.Context) error {
			return lease.Renew(ctx, DefaultLeaseTTL)
		})
	}
	o.leaseDepth++

	return cfg, func() {
		o.leaseDepth--
		if o.leaseDepth > 0 || o.lease == nil {
			return
		}
		o.poller.SetHeartbeat(nil)
		if err := o.lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Msg("failed to release advisory lease")
		}
		o.lease = nil
	}, nil
}

func (o *Orchestrator) guard(ctx context.Context, cfg *ResolvedConfig, operation, hostname string) error {
	if o.inv.Guard == nil {
		return nil
	}
	return o.inv.Guard.Check(ctx, GuardInput{
		Operation:          operation,
		DeployType:         cfg.DeployType,
		Environment:        cfg.Environment,
		Hostname:           hostname,
		ProtectedHostnames: cfg.ProtectedHostnamePatterns(),
	})
}

func (o *Orchestrator) notify(ctx context.Context, kind NotificationKind, title string, manifest Manifest) {
	n := Notification{Kind: kind, Title: title, Status: StatusSuccess, Manifest: manifest}
	if err := o.inv.Notifier.Notify(ctx, n); err != nil {
		o.logger.Warn().Err(err).Str("title", title).Msg("failed to send notification")
	}
}

func (o *Orchestrator) describeInstance(ctx context.Context, instanceID string) (*Instance, error) {
	instances, err := o.inv.ControlPlane.DescribeInstances(ctx, InstanceQuery{InstanceIDs: []string{instanceID}})
	if err != nil {
		return nil, NewInternalError("failed to describe instance", err).WithResource(instanceID)
	}
	if len(instances) == 0 {
		return nil, NewNotFoundError("instance not found", nil).WithResource(instanceID)
	}
	return &instances[0], nil
}

func (o *Orchestrator) layerInstances(ctx context.Context, cfg *ResolvedConfig) ([]Instance, error) {
	instances, err := o.inv.ControlPlane.DescribeInstances(ctx, InstanceQuery{LayerID: cfg.LayerID})
	if err != nil {
		return nil, NewInternalError("failed to list layer instances", err).WithResource(cfg.LayerID)
	}
	return instances, nil
}

// findByHostname returns the layer instance with the resolved hostname, or nil.
func (o *Orchestrator) findByHostname(ctx context.Context, cfg *ResolvedConfig) (*Instance, error) {
	hostname, err := o.inv.ResolveHostname(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := o.layerInstances(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if instances[i].Hostname == hostname {
			return &instances[i], nil
		}
	}
	return nil, nil
}

// waitFor polls the instance until done reports true, printing the status on exit.
func (o *Orchestrator) waitFor(ctx context.Context, cfg *ResolvedConfig, instanceID string, manifest Manifest, done func(*Instance) (bool, error)) (*Instance, error) {
	var current *Instance
	err := o.poller.Poll(ctx, cfg.WaitIterations, manifest, func(ctx context.Context, i int) (bool, error) {
		inst, err := o.describeInstance(ctx, instanceID)
		if err != nil {
			return false, err
		}
		current = inst
		finished, err := done(inst)
		if err != nil {
			o.inv.Reporter.Progress(" " + string(inst.Status) + "\n")
			return false, err
		}
		if finished {
			o.inv.Reporter.Progress(" " + string(inst.Status) + "\n")
			return true, nil
		}
		o.inv.Reporter.Progress(".")
		if IsMinuteMark(i) {
			o.inv.Reporter.Progress(fmt.Sprintf(" %s :", inst.Status))
		}
		return false, nil
	})
	return current, err
}

func instanceManifest(base Manifest, inst *Instance) Manifest {
	publicIP := inst.PublicIP
	if publicIP == "" {
		publicIP = "N/A"
	}
	return base.Merge(NewManifest(
		"hostname", inst.Hostname,
		"instance_id", inst.ID,
		"private_ip", inst.PrivateIP,
		"public_ip", publicIP,
	))
}

func hostnames(instances []Instance) []string {
	out := make([]string, len(instances))
	for i, in := range instances {
		out[i] = in.Hostname
	}
	return out
}

func instanceIDs(instances []Instance) []string {
	out := make([]string, len(instances))
	for i, in := range instances {
		out[i] = in.ID
	}
	return out
}
