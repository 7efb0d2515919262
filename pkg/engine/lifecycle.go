package engine

import (
	"context"
	"fmt"
)

// Up brings up the instance for the resolved hostname and deploys the app to it.
// Staging-class targets reuse an existing instance; production always creates one.
func (o *Orchestrator) Up(ctx context.Context) error {
	cfg, release, err := o.begin(ctx, "up", true)
	defer release()
	if err != nil {
		return err
	}

	hostname, err := o.inv.ResolveHostname(ctx)
	if err != nil {
		return err
	}
	if err := o.guard(ctx, cfg, "up", hostname); err != nil {
		return err
	}

	var existing *Instance
	if cfg.DeployType.IsStaging() {
		if existing, err = o.findByHostname(ctx, cfg); err != nil {
			return err
		}
	}

	creating := existing == nil
	var instanceID string
	if creating {
		req := o.createRequest(cfg, hostname)
		o.inv.Reporter.Infof("Creating instance %s (%s) on layer %s", hostname, req.InstanceType, cfg.LayerID)
		instanceID, err = o.inv.ControlPlane.CreateInstance(ctx, req)
		if err != nil {
			return NewInternalError("failed to create instance", err).
				WithResource(hostname).
				WithOperation("up").
				WithCode(ErrCodeGatewayFailed)
		}
		o.logger.Info().Str("instance_id", instanceID).Str("hostname", hostname).Msg("instance created")
		o.inv.record(ctx, EventInstanceCreated, "instance created", map[string]any{"instance_id": instanceID, "hostname": hostname})
	} else {
		instanceID = existing.ID
		o.inv.Reporter.Infof("Existing instance %s", hostname)
	}

	instance, err := o.describeInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if cfg.UsesTimer() {
		o.inv.Reporter.Progress("Setting up weekly schedule ...")
		if err := o.inv.ControlPlane.SetTimeBasedAutoScaling(ctx, instanceID, cfg.Schedule); err != nil {
			return NewInternalError("failed to set boot schedule", err).WithResource(instanceID)
		}
		o.inv.Reporter.Progress("done\n")
	}

	initial := *instance

	o.inv.Reporter.Progress("Booting instance ...")
	if !initial.Status.IsStarted() {
		if err := o.inv.ControlPlane.StartInstance(ctx, instanceID); err != nil {
			return NewInternalError("failed to start instance", err).WithResource(instanceID)
		}
		o.inv.record(ctx, EventInstanceStarted, "instance start requested", map[string]any{"instance_id": instanceID})
	}

	manifest := NewManifest(
		"environment", cfg.DeployType,
		"app_name", cfg.AppName,
		"command", "add instance",
	)

	instance, err = o.waitFor(ctx, cfg, instanceID, manifest, func(in *Instance) (bool, error) {
		return !in.Status.IsBooting(), nil
	})
	if err != nil {
		return err
	}

	o.inv.Reporter.Infof("Public IP: %s", instance.PublicIP)
	o.inv.Reporter.Infof("Private IP: %s", instance.PrivateIP)

	if instance, err = o.setup(ctx, cfg, &initial, manifest); err != nil {
		return err
	}
	o.inv.record(ctx, EventInstanceOnline, "instance online", map[string]any{"instance_id": instanceID})

	if err := o.tagInstance(ctx, cfg, instance); err != nil {
		return err
	}

	if cfg.HasOption(OptPublicSearchELB) {
		o.inv.Reporter.Infof("Register instance %s to elb %s", instance.EC2InstanceID, cfg.PublicSearchELB)
		if err := o.inv.ControlPlane.RegisterWithLoadBalancer(ctx, cfg.PublicSearchELB, instance.EC2InstanceID); err != nil {
			return NewInternalError("failed to register instance with load balancer", err).WithResource(instance.EC2InstanceID)
		}
	}

	if creating {
		o.notify(ctx, NotifyInstanceUp, "Created another instance",
			instanceManifest(manifest.With("completed", o.inv.Clock.Now()), instance))
	}

	return o.deployApp(ctx, cfg)
}

// setup waits for the instance to finish setup. When the instance had already
// failed setup before it was started, setup is re-run through the dispatcher since
// the control plane will not re-run it on its own.
func (o *Orchestrator) setup(ctx context.Context, cfg *ResolvedConfig, initial *Instance, manifest Manifest) (*Instance, error) {
	o.inv.Reporter.Progress("Setup instance ...")

	if initial.Status == InstanceStatusSetupFailed {
		req := DeploymentRequest{StackID: cfg.StackID, Command: DeploymentCommand{Name: "setup"}}
		if _, err := o.dispatcher.Dispatch(ctx, req, []string{initial.ID}, DispatchOptions{
			WaitIterations: cfg.WaitIterations,
			Manifest:       manifest,
		}); err != nil {
			return nil, err
		}
		return o.describeInstance(ctx, initial.ID)
	}

	return o.waitFor(ctx, cfg, initial.ID, manifest, func(in *Instance) (bool, error) {
		switch in.Status {
		case InstanceStatusOnline:
			return true, nil
		case InstanceStatusSetupFailed:
			return false, o.diagnostics.Diagnose(ctx, CommandQuery{InstanceID: in.ID}, DiagnoseOptions{
				LastOnly: true,
				Manifest: instanceManifest(manifest, in),
			})
		default:
			return false, nil
		}
	})
}

func (o *Orchestrator) createRequest(cfg *ResolvedConfig, hostname string) CreateInstanceRequest {
	return CreateInstanceRequest{
		StackID:         cfg.StackID,
		LayerIDs:        []string{cfg.LayerID},
		InstanceType:    cfg.InstanceType,
		OS:              cfg.OS,
		Hostname:        hostname,
		SubnetID:        cfg.SubnetID,
		AutoScalingType: cfg.AutoscaleType,
		Architecture:    "x86_64",
		RootDeviceType:  "ebs",
		RootVolume: Volume{
			DeviceName:          "ROOT_DEVICE",
			SizeGiB:             cfg.RootVolumeSize,
			VolumeType:          "gp2",
			DeleteOnTermination: true,
		},
		EbsOptimized: cfg.EbsOptimize,
	}
}

// InstanceTags returns the tags written on a provisioned instance.
func InstanceTags(cfg *ResolvedConfig, revision string) Tags {
	tags := Tags{
		{Key: TagEnvironment, Value: string(cfg.DeployType)},
		{Key: TagBranch, Value: revision},
		{Key: TagApp, Value: cfg.AppName},
	}
	if cfg.DeployType.IsStaging() {
		tags = append(tags, Tag{Key: TagCleanable, Value: "true"})
	}
	return tags
}

func (o *Orchestrator) tagInstance(ctx context.Context, cfg *ResolvedConfig, instance *Instance) error {
	revision, err := o.inv.Revision(ctx)
	if err != nil {
		return err
	}
	o.inv.Reporter.Infof("Tagging instance %s", instance.Hostname)
	if err := o.inv.ControlPlane.CreateTags(ctx, instance.EC2InstanceID, InstanceTags(cfg, revision)); err != nil {
		return NewInternalError("failed to tag instance", err).WithResource(instance.EC2InstanceID)
	}
	return nil
}

// Down tears down the instance for the resolved hostname (staging) or the first
// layer instance (production). No instance is a clean outcome.
func (o *Orchestrator) Down(ctx context.Context) error {
	cfg, release, err := o.begin(ctx, "down", true)
	defer release()
	if err != nil {
		return err
	}

	var instance *Instance
	switch cfg.DeployType {
	case DeployTypeStaging:
		instance, err = o.findByHostname(ctx, cfg)
	case DeployTypeProduction:
		var instances []Instance
		instances, err = o.layerInstances(ctx, cfg)
		if len(instances) > 0 {
			instance = &instances[0]
		}
	}
	if err != nil {
		return err
	}
	if instance == nil {
		o.inv.Reporter.Infof("No instance available to shutdown")
		return nil
	}

	if err := o.guard(ctx, cfg, "down", instance.Hostname); err != nil {
		return err
	}
	if err := o.terminate(ctx, cfg, instance.ID); err != nil {
		return err
	}
	o.inv.Reporter.Successf("Success")
	return nil
}

// Rebuild runs Down then Up. A failing Down is not compensated.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	_, release, err := o.begin(ctx, "rebuild", true)
	defer release()
	if err != nil {
		return err
	}
	if err := o.Down(ctx); err != nil {
		return err
	}
	return o.Up(ctx)
}

// terminate removes the boot schedule, deregisters, stops and deletes an instance.
func (o *Orchestrator) terminate(ctx context.Context, cfg *ResolvedConfig, instanceID string) error {
	if cfg.UsesTimer() {
		if err := o.inv.ControlPlane.SetTimeBasedAutoScaling(ctx, instanceID, AutoScalingSchedule{}); err != nil {
			return NewInternalError("failed to remove boot schedule", err).WithResource(instanceID)
		}
	}

	instance, err := o.describeInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if cfg.HasOption(OptPublicSearchELB) {
		if err := o.inv.ControlPlane.DeregisterFromLoadBalancer(ctx, cfg.PublicSearchELB, instance.EC2InstanceID); err != nil {
			return NewInternalError("failed to deregister instance from load balancer", err).WithResource(instance.EC2InstanceID)
		}
	}

	o.inv.Reporter.Progress(fmt.Sprintf("Attempting instance %s - %s shutdown ...", instanceID, instance.Hostname))
	if instance.Status != InstanceStatusStopped {
		if err := o.inv.ControlPlane.StopInstance(ctx, instanceID); err != nil {
			return NewInternalError("failed to stop instance", err).WithResource(instanceID)
		}
	}

	manifest := NewManifest(
		"environment", cfg.DeployType,
		"app_name", cfg.AppName,
		"command", "remove instance",
	)

	instance, err = o.waitFor(ctx, cfg, instanceID, manifest, func(in *Instance) (bool, error) {
		return in.Status == InstanceStatusStopped, nil
	})
	if err != nil {
		return err
	}
	o.inv.record(ctx, EventInstanceStopped, "instance stopped", map[string]any{"instance_id": instanceID})

	o.inv.Reporter.Infof("Terminating instance %s", instanceID)
	if err := o.inv.ControlPlane.DeleteInstance(ctx, instanceID, true); err != nil {
		return NewInternalError("failed to delete instance", err).WithResource(instanceID)
	}
	o.logger.Info().Str("instance_id", instanceID).Str("hostname", instance.Hostname).Msg("instance deleted")
	o.inv.record(ctx, EventInstanceDeleted, "instance deleted", map[string]any{"instance_id": instanceID, "hostname": instance.Hostname})

	o.notify(ctx, NotifyInstanceDown, "Remove existing instance",
		instanceManifest(manifest.With("completed", o.inv.Clock.Now()), instance))
	return nil
}
