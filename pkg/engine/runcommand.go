package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// RunCommand runs one of the remote commands on every layer instance, either in a
// single deployment or one instance at a time with a pause in between. In
// one-by-one mode an error aborts the rest of the queue; the instances that
// already succeeded are returned with it.
func (o *Orchestrator) RunCommand(ctx context.Context) ([]Instance, error) {
	cfg, release, err := o.begin(ctx, "run_command", true)
	defer release()
	if err != nil {
		return nil, err
	}

	instances, err := o.layerInstances(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, NewNotFoundError("no instances on the layer to run a command on", nil).WithResource(cfg.LayerID)
	}
	o.inv.Reporter.Infof("Preparing to run command to all servers (%s)", strings.Join(hostnames(instances), ", "))

	command, mode, recipes, err := o.runCommandInputs(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.guard(ctx, cfg, "run_command", ""); err != nil {
		return nil, err
	}

	req := DeploymentRequest{
		StackID: cfg.StackID,
		Command: DeploymentCommand{Name: command},
	}
	if len(recipes) > 0 {
		req.Command.Args = map[string][]string{"recipes": recipes}
	}

	manifest := NewManifest("environment", cfg.DeployType)
	opts := DispatchOptions{WaitIterations: cfg.WaitIterations, Manifest: manifest}

	if mode != RunModeOneByOne {
		o.inv.Reporter.Progress(fmt.Sprintf("Run command %s on all instances at once ...", command))
		if _, err := o.dispatcher.Dispatch(ctx, req, nil, opts); err != nil {
			return nil, err
		}
		o.notify(ctx, NotifyRelease, fmt.Sprintf("Run command: `%s` on all instances", command), manifest.Merge(NewManifest(
			"app_name", cfg.AppName,
			"command", command,
			"completed", o.inv.Clock.Now(),
			"hostname", hostnames(instances),
			"instance_id", instanceIDs(instances),
		)))
		return instances, nil
	}

	var done []Instance
	for i := range instances {
		instance := &instances[i]
		o.inv.Reporter.Progress(fmt.Sprintf("Run command %s on instance %s", command, instance.EC2InstanceID))

		if _, err := o.dispatcher.Dispatch(ctx, req, []string{instance.ID}, opts); err != nil {
			return done, err
		}
		o.notify(ctx, NotifyRelease, fmt.Sprintf("Run command: `%s` on existing instance", command),
			instanceManifest(manifest.With("completed", o.inv.Clock.Now()), instance))
		o.inv.Reporter.Successf("Success")
		done = append(done, *instance)

		if i == len(instances)-1 {
			break
		}
		o.inv.Reporter.Infof("wait for %.1f minutes", cfg.WaitDeploy.Minutes())
		if err := o.inv.Clock.Sleep(ctx, cfg.WaitDeploy); err != nil {
			return done, NewInternalError("run_command interrupted", err)
		}
	}
	return done, nil
}

// runCommandInputs takes the command, mode and recipes from the invocation
// options, prompting for whatever is missing.
func (o *Orchestrator) runCommandInputs(ctx context.Context) (string, RunCommandMode, []string, error) {
	opts := o.inv.Options

	command := opts.RemoteCommand
	if command == "" {
		if o.inv.Prompter == nil {
			return "", "", nil, NewConfigurationError("no command given and no terminal to prompt on", nil)
		}
		selected, err := o.inv.Prompter.Select(ctx, "Which command you want to execute?", RemoteCommands())
		if err != nil {
			return "", "", nil, err
		}
		command = selected
	}
	if !slices.Contains(RemoteCommands(), command) {
		return "", "", nil, NewConfigurationError(fmt.Sprintf("unsupported command %q", command), nil).
			WithDetail("allowed", RemoteCommands())
	}

	mode := opts.Mode
	if mode == "" {
		if o.inv.Prompter == nil {
			return "", "", nil, NewConfigurationError("no mode given and no terminal to prompt on", nil)
		}
		selected, err := o.inv.Prompter.Select(ctx, "How do you want to run the command?", RunCommandModes())
		if err != nil {
			return "", "", nil, err
		}
		mode = RunCommandMode(selected)
	}
	if err := mode.Validate(); err != nil {
		return "", "", nil, NewConfigurationError("invalid run command mode", err)
	}

	if command != "execute_recipes" {
		return command, mode, nil, nil
	}

	raw := opts.Recipes
	if raw == "" {
		if o.inv.Prompter == nil {
			return "", "", nil, NewConfigurationError("execute_recipes needs a recipe list", nil)
		}
		input, err := o.inv.Prompter.Input(ctx, "Recipes list?")
		if err != nil {
			return "", "", nil, err
		}
		raw = input
	}
	recipes := SplitList(raw)
	if len(recipes) == 0 {
		return "", "", nil, NewConfigurationError("execute_recipes needs a recipe list", nil)
	}
	return command, mode, recipes, nil
}

// SplitList splits a comma or whitespace separated list.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
