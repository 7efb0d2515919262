package engine

import (
	"context"
	"fmt"
	"strings"
)

// DeployApp deploys the latest app revision. Staging deploys the resolved
// instance; production deploys every online layer instance, migrating on the
// first one only.
func (o *Orchestrator) DeployApp(ctx context.Context) error {
	cfg, release, err := o.begin(ctx, "deploy", true)
	defer release()
	if err != nil {
		return err
	}
	if err := o.guard(ctx, cfg, "deploy", ""); err != nil {
		return err
	}
	return o.deployApp(ctx, cfg)
}

func (o *Orchestrator) deployApp(ctx context.Context, cfg *ResolvedConfig) error {
	var instances []Instance
	if cfg.DeployType.IsStaging() {
		instance, err := o.findByHostname(ctx, cfg)
		if err != nil {
			return err
		}
		if instance != nil {
			instances = append(instances, *instance)
		}
	} else {
		all, err := o.layerInstances(ctx, cfg)
		if err != nil {
			return err
		}
		instances = all
	}

	var online []Instance
	for _, in := range instances {
		if in.Status == InstanceStatusOnline {
			online = append(online, in)
		}
	}
	if len(online) == 0 {
		return NewNotFoundError(`Could not find any running instance(s) to deploy to. Perhaps you need to run "instance up" first`, nil).
			WithOperation("deploy")
	}

	revision, err := o.inv.Revision(ctx)
	if err != nil {
		return err
	}
	if cfg.DeployType.IsStaging() {
		o.inv.Reporter.Infof("Preparing to deploy branch %s to instance %s", revision, online[0].Hostname)
	} else {
		o.inv.Reporter.Infof("Preparing to deploy default branch to all (online) servers (%s)", strings.Join(hostnames(online), ", "))
	}

	if cfg.AppID == "" {
		o.inv.Reporter.Warnf("No application specified. Exiting without application deployment.")
		return nil
	}

	req := DeploymentRequest{
		StackID: cfg.StackID,
		AppID:   cfg.AppID,
		Command: DeploymentCommand{Name: "deploy"},
	}
	if cfg.DeployType.IsStaging() || strings.TrimSpace(o.inv.Options.CustomJSON) != "" {
		payload, err := BuildCustomJSON(ctx, cfg.AppName, revision, o.inv.Options.CustomJSON, o.inv.Hook)
		if err != nil {
			return err
		}
		if req.CustomJSON, err = EncodeCustomJSON(payload); err != nil {
			return err
		}
		if o.inv.Options.CustomJSON != "" {
			o.inv.Reporter.Block("Using custom json:", req.CustomJSON)
		}
	}

	manifest := NewManifest("environment", cfg.DeployType)
	opts := o.deployOptions(cfg, manifest)

	first := online[0]
	migrate := !cfg.HasOption(OptMigrate) || cfg.Migrate
	firstReq := req.Clone()
	if migrate {
		firstReq.Command.Args = map[string][]string{"migrate": {"true"}}
	}
	o.inv.Reporter.Progress(fmt.Sprintf("Migrating and deploying first instance (%s) ...", first.Hostname))
	if _, err := o.dispatcher.Dispatch(ctx, firstReq, []string{first.ID}, opts); err != nil {
		return err
	}
	o.notify(ctx, NotifyRelease, fmt.Sprintf("Deployed and migrated instance '%s'", first.Hostname), manifest.Merge(NewManifest(
		"app_name", cfg.AppName,
		"command", "deploy + migrate",
		"migrate", fmt.Sprint(migrate),
		"completed", o.inv.Clock.Now(),
		"hostname", first.Hostname,
		"instance_id", first.ID,
	)))

	if !cfg.DeployType.IsProduction() || len(online) < 2 {
		return nil
	}

	rest := online[1:]
	o.inv.Reporter.Progress("Deploying remaining instances ...")
	if _, err := o.dispatcher.Dispatch(ctx, req, instanceIDs(rest), opts); err != nil {
		return err
	}
	o.notify(ctx, NotifyRelease, "Deployed All Instances", manifest.Merge(NewManifest(
		"app_name", cfg.AppName,
		"command", "deploy",
		"migrate", "false",
		"completed", o.inv.Clock.Now(),
		"hostname", hostnames(online),
		"instance_id", instanceIDs(online),
	)))
	return nil
}

// deployOptions prints the instance status at minute marks on staging and the
// deployment status on production.
func (o *Orchestrator) deployOptions(cfg *ResolvedConfig, manifest Manifest) DispatchOptions {
	opts := DispatchOptions{WaitIterations: cfg.WaitIterations, Manifest: manifest}
	if cfg.DeployType.IsStaging() {
		opts.StatusLine = func(ctx context.Context) string {
			instance, err := o.findByHostname(ctx, cfg)
			if err != nil || instance == nil {
				return "unknown"
			}
			return string(instance.Status)
		}
	}
	return opts
}
