package config

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Resolver turns a selected Environment into the ResolvedConfig of one
// invocation, discovering stack, layer and app identities through the control
// plane unless ForceConfig is set.
type Resolver struct {
	Env          *Environment
	ControlPlane engine.ControlPlane

	// ForceConfig takes identities verbatim from the file.
	ForceConfig bool

	// Verbose reports discovery steps to Reporter.
	Verbose  bool
	Reporter engine.Reporter

	Logger zerolog.Logger
}

var _ engine.ConfigSource = (*Resolver)(nil)

// Resolve implements engine.ConfigSource.
func (r *Resolver) Resolve(ctx context.Context) (*engine.ResolvedConfig, error) {
	cfg := r.literal()

	if r.ForceConfig {
		r.progress("Forcing stackpilot to read the stack parameters strictly from config")
		r.Logger.Debug().Str("environment", r.Env.Name).Msg("using literal config values")
		return cfg, nil
	}

	if cfg.StackID != "" {
		r.progress(fmt.Sprintf("Using config stack_id: %s", cfg.StackID))
	} else {
		r.progress(fmt.Sprintf("Using config stack_name: %s", cfg.StackName))
	}

	r.verbose("Searching for stack : %s", firstNonEmpty(cfg.StackID, cfg.StackName))
	stack, err := engine.FindStack(ctx, r.ControlPlane, cfg, "")
	if err != nil {
		return nil, err
	}
	r.verbose("Found stack: %s (%s)", stack.Name, stack.ID)

	cfg.StackID = stack.ID
	cfg.StackName = stack.Name
	if !r.Env.HasOption(engine.OptSubnet) {
		cfg.SubnetID = stack.DefaultSubnetID
	}
	if !r.Env.HasOption(engine.OptOS) {
		cfg.OS = stack.DefaultOS
	}

	if cfg.LayerName != "" {
		r.verbose("Searching for layer : %s", cfg.LayerName)
		layer, err := r.findLayer(ctx, stack.ID, cfg.LayerName)
		if err != nil {
			return nil, err
		}
		cfg.LayerID = layer.ID
	}

	apps, err := r.ControlPlane.DescribeApps(ctx, stack.ID)
	if err != nil {
		return nil, engine.NewInternalError("failed to describe apps", err).WithResource(stack.ID)
	}
	if len(apps) > 0 {
		cfg.AppID = apps[0].ID
	} else {
		cfg.AppID = ""
	}

	r.Logger.Debug().
		Str("stack_id", cfg.StackID).
		Str("layer_id", cfg.LayerID).
		Str("app_id", cfg.AppID).
		Msg("config resolved")
	return cfg, nil
}

// findLayer returns the first layer whose name matches pattern, case-insensitively.
func (r *Resolver) findLayer(ctx context.Context, stackID, pattern string) (*engine.Layer, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}

	layers, err := r.ControlPlane.DescribeLayers(ctx, stackID)
	if err != nil {
		return nil, engine.NewInternalError("failed to describe layers", err).WithResource(stackID)
	}
	for i := range layers {
		if re.MatchString(layers[i].Name) {
			r.verbose("Found layer: %s (%s)", layers[i].Name, layers[i].ID)
			return &layers[i], nil
		}
	}
	return nil, engine.NewNotFoundError(fmt.Sprintf("Could not find layer matching %s", pattern), nil).
		WithResource(stackID)
}

// literal builds the config from file values and defaults only.
func (r *Resolver) literal() *engine.ResolvedConfig {
	ec := r.Env.Config
	cfg := &engine.ResolvedConfig{
		Environment:           r.Env.Name,
		DeployType:            engine.DeployType(ec.DeployType),
		Region:                ec.Region,
		StackID:               ec.StackID,
		StackName:             ec.StackName,
		AppID:                 ec.ApplicationID,
		AppName:               ec.AppName,
		LayerID:               ec.LayerID,
		LayerName:             ec.LayerName,
		SubnetID:              ec.Subnet,
		OS:                    ec.OS,
		InstanceType:          ec.InstanceType,
		HostnamePrefix:        ec.HostnamePrefix,
		RootVolumeSize:        ec.RootVolumeSize,
		AutoscaleType:         ec.AutoscaleType,
		Schedule:              ec.Schedule,
		PublicSearchELB:       ec.PublicSearchELB,
		ProtectedHostnames:    ec.ProtectedHostnames,
		WaitIterations:        ec.WaitIterations,
		WaitDeploy:            time.Duration(ec.WaitDeploy) * time.Second,
		CommandLogLines:       ec.CommandLogLines,
		MaxInstanceDuration:   time.Duration(ec.MaxInstanceDuration) * time.Second,
		CleanCommandsToIgnore: ec.CleanCommandsToIgnore,
		Migrate:               true,
		AdvisoryLock:          ec.AdvisoryLock,
		PolicyPaths:           ec.PolicyPaths,
		CustomJSONScript:      ec.CustomJSONScript,
		ForceConfig:           r.ForceConfig,
		Cookbook: engine.CookbookConfig{
			Dir:     ec.CookbookDir,
			Store:   ec.CookbookStore,
			Path:    ec.CookbookPath,
			Name:    ec.CookbookName,
			Version: ec.CookbookVersion,
			JSON:    ec.CookbookJSON,
		},
	}

	if ec.Migrate != nil {
		cfg.Migrate = *ec.Migrate
	}
	if ec.EbsOptimize != nil {
		cfg.EbsOptimize = *ec.EbsOptimize
	} else {
		cfg.EbsOptimize = cfg.DeployType.IsProduction()
	}

	cfg.SetOptions(r.Env.Options)
	cfg.ApplyDefaults()
	return cfg
}

func (r *Resolver) progress(msg string) {
	if r.Reporter != nil {
		r.Reporter.Successf("%s", msg)
	}
}

func (r *Resolver) verbose(format string, args ...any) {
	r.Logger.Debug().Msgf(format, args...)
	if r.Verbose && r.Reporter != nil {
		r.Reporter.Warnf(format, args...)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
