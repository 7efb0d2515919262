package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// SeedSpec describes the stack created by Seed.
type SeedSpec struct {
	StackName            string            `yaml:"stack_name"`
	Region               string            `yaml:"region"`
	SubnetID             string            `yaml:"subnet"`
	OS                   string            `yaml:"os"`
	ConfigurationManager map[string]string `yaml:"configuration_manager"`
	Layers               []SeedLayer       `yaml:"layers"`
	Apps                 []string          `yaml:"apps"`
	Instances            []SeedInstance    `yaml:"instances"`
}

// SeedLayer is a layer to create.
type SeedLayer struct {
	Name      string `yaml:"name"`
	Shortname string `yaml:"shortname"`
}

// SeedInstance is a pre-existing instance. Age back-dates its creation.
type SeedInstance struct {
	Hostname string                `yaml:"hostname"`
	Layer    string                `yaml:"layer"`
	Status   engine.InstanceStatus `yaml:"status"`
	Age      time.Duration         `yaml:"age"`
	Tags     map[string]string     `yaml:"tags"`
}

// DefaultSeed is the stack `sandbox seed` creates without a seed file.
func DefaultSeed(stackName, region string) SeedSpec {
	return SeedSpec{
		StackName:            stackName,
		Region:               region,
		SubnetID:             "subnet-sandbox",
		OS:                   "Ubuntu 22.04 LTS",
		ConfigurationManager: map[string]string{"name": "Chef", "version": "12"},
		Layers:               []SeedLayer{{Name: "Rails App Server", Shortname: "rails-app"}},
		Apps:                 []string{stackName},
	}
}

// Seed creates the stack of spec. Seeding an existing stack name returns the
// existing stack unchanged.
func (c *ControlPlane) Seed(ctx context.Context, spec SeedSpec) (*engine.Stack, error) {
	if spec.StackName == "" {
		return nil, engine.NewConfigurationError("seed requires a stack name", nil)
	}
	if err := c.validateSeed(spec); err != nil {
		return nil, err
	}

	stacks, err := c.DescribeStacks(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stacks {
		if s.Name == spec.StackName {
			c.logger.Info().Str("stack_id", s.ID).Msg("stack already seeded")
			return &s, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stack := engine.Stack{
		ID:                   newID(""),
		Name:                 spec.StackName,
		Region:               spec.Region,
		DefaultSubnetID:      spec.SubnetID,
		DefaultOS:            spec.OS,
		ConfigurationManager: spec.ConfigurationManager,
	}
	if err := put(ctx, c.store, kindStack, stack.ID, "", stack); err != nil {
		return nil, err
	}

	layers := make(map[string]string, len(spec.Layers))
	for _, l := range spec.Layers {
		layer := engine.Layer{ID: newID(""), StackID: stack.ID, Name: l.Name, Shortname: l.Shortname}
		if err := put(ctx, c.store, kindLayer, layer.ID, stack.ID, layer); err != nil {
			return nil, err
		}
		layers[l.Shortname] = layer.ID
	}

	for _, name := range spec.Apps {
		app := engine.App{ID: newID(""), StackID: stack.ID, Name: name}
		if err := put(ctx, c.store, kindApp, app.ID, stack.ID, app); err != nil {
			return nil, err
		}
	}

	now := c.now()
	for _, si := range spec.Instances {
		status := si.Status
		if status == "" {
			status = engine.InstanceStatusOnline
		}
		target := engine.InstanceStatusOnline
		if status == engine.InstanceStatusStopped || status == engine.InstanceStatusStopping {
			target = engine.InstanceStatusStopped
		}
		rec := instanceRecord{
			Instance: engine.Instance{
				ID:            newID(""),
				Hostname:      si.Hostname,
				Status:        status,
				EC2InstanceID: ec2ID(),
				LayerIDs:      []string{layers[si.Layer]},
				CreatedAt:     now.Add(-si.Age),
			},
			StackID: stack.ID,
			Target:  target,
		}
		if status == engine.InstanceStatusOnline {
			rec.PrivateIP, rec.PublicIP = addresses(rec.ID)
		}
		if err := c.save(ctx, &rec); err != nil {
			return nil, err
		}
		tags := engine.Tags{}
		for k, v := range si.Tags {
			tags = append(tags, engine.Tag{Key: k, Value: v})
		}
		if err := put(ctx, c.store, kindTags, rec.EC2InstanceID, "", tags); err != nil {
			return nil, err
		}
	}

	c.logger.Info().
		Str("stack_id", stack.ID).
		Str("name", stack.Name).
		Int("layers", len(spec.Layers)).
		Int("instances", len(spec.Instances)).
		Msg("stack seeded")
	return &stack, nil
}

func (c *ControlPlane) validateSeed(spec SeedSpec) error {
	shortnames := make(map[string]bool, len(spec.Layers))
	for _, l := range spec.Layers {
		if l.Shortname == "" {
			return engine.NewConfigurationError(fmt.Sprintf("layer %q needs a shortname", l.Name), nil)
		}
		shortnames[l.Shortname] = true
	}
	for _, si := range spec.Instances {
		if si.Hostname == "" {
			return engine.NewConfigurationError("seeded instances need a hostname", nil)
		}
		if !shortnames[si.Layer] {
			return engine.NewConfigurationError(fmt.Sprintf("instance %s references unknown layer %q", si.Hostname, si.Layer), nil)
		}
		if si.Status != "" {
			if err := si.Status.Validate(); err != nil {
				return engine.NewConfigurationError("invalid seeded instance status", err).WithResource(si.Hostname)
			}
		}
	}
	return nil
}
