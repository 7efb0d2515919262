package engine

import (
	"context"
	"fmt"
)

// FindStack returns the stack matching name, or the configured stack id or name
// when name is empty.
func FindStack(ctx context.Context, cp ControlPlane, cfg *ResolvedConfig, name string) (*Stack, error) {
	stacks, err := cp.DescribeStacks(ctx)
	if err != nil {
		return nil, NewInternalError("failed to describe stacks", err).WithOperation("describe_stacks")
	}

	match := func(s *Stack) bool {
		switch {
		case name != "":
			return s.Name == name
		case cfg.StackID != "":
			return s.ID == cfg.StackID
		default:
			return s.Name == cfg.StackName
		}
	}
	for i := range stacks {
		if match(&stacks[i]) {
			return &stacks[i], nil
		}
	}

	key, value := "stack_id", cfg.StackID
	if name != "" {
		key, value = "name", name
	} else if value == "" {
		key, value = "name", cfg.StackName
	}
	return nil, NewNotFoundError(fmt.Sprintf("Could not find stack with %s = %s", key, value), nil).WithResource(value)
}

// DescribeStack reports the stack, its layers and its apps.
func (o *Orchestrator) DescribeStack(ctx context.Context, name string) (*StackSummary, error) {
	cfg, release, err := o.begin(ctx, "stack_describe", false)
	defer release()
	if err != nil {
		return nil, err
	}

	stack, err := FindStack(ctx, o.inv.ControlPlane, cfg, name)
	if err != nil {
		return nil, err
	}
	layers, err := o.inv.ControlPlane.DescribeLayers(ctx, stack.ID)
	if err != nil {
		return nil, NewInternalError("failed to describe layers", err).WithResource(stack.ID)
	}
	apps, err := o.inv.ControlPlane.DescribeApps(ctx, stack.ID)
	if err != nil {
		return nil, NewInternalError("failed to describe apps", err).WithResource(stack.ID)
	}

	for i := range layers {
		layers[i].StackID = ""
	}
	for i := range apps {
		apps[i].StackID = ""
	}

	return &StackSummary{
		Name:          stack.Name,
		StackID:       stack.ID,
		Subnet:        stack.DefaultSubnetID,
		Layers:        layers,
		Apps:          apps,
		ConfigManager: stack.ConfigurationManager,
		DefaultOS:     stack.DefaultOS,
	}, nil
}
