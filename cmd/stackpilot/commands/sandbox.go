package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/controlplane/sandbox"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newSandboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage the local sandbox control plane",
		Long: `The sandbox control plane keeps stacks, layers, apps and instances in
the history database so every workflow can run without a cloud account.`,
	}

	cmd.AddCommand(newSandboxSeedCommand())

	return cmd
}

func newSandboxSeedCommand() *cobra.Command {
	var (
		seedFile  string
		stackName string
		region    string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a stack in the sandbox",
		Long: `Create a stack with its layers, apps and instances in the sandbox.

Without --file a default stack is created, named after --stack-name or the
stack_name of the selected environment. Seeding an existing stack name is a
no-op.`,
		Example: `  # Seed the stack the staging environment points at
  stackpilot sandbox seed -e staging

  # Seed from a file
  stackpilot sandbox seed --file sandbox.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				spec, err := a.seedSpec(ctx, seedFile, stackName, region)
				if err != nil {
					return err
				}
				stack, err := a.sandbox.Seed(ctx, spec)
				if err != nil {
					return err
				}
				a.console.Successf("Seeded stack %s (%s)", stack.Name, stack.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&seedFile, "file", "", "seed file (YAML)")
	cmd.Flags().StringVar(&stackName, "stack-name", "", "stack name for the default seed")
	cmd.Flags().StringVar(&region, "region", "", "region for the default seed")

	return cmd
}

func (a *app) seedSpec(ctx context.Context, path, stackName, region string) (sandbox.SeedSpec, error) {
	if path != "" {
		return loadSeedFile(ctx, path)
	}

	var layerName string
	if stackName == "" {
		env, err := a.environment(ctx)
		if err != nil {
			return sandbox.SeedSpec{}, err
		}
		stackName = env.Config.StackName
		layerName = env.Config.LayerName
		if region == "" {
			region = env.Config.Region
		}
	}
	spec := sandbox.DefaultSeed(stackName, region)
	if layerName != "" {
		spec.Layers = []sandbox.SeedLayer{{Name: layerName, Shortname: engine.Parameterize(layerName)}}
	}
	return spec, nil
}

func loadSeedFile(ctx context.Context, path string) (sandbox.SeedSpec, error) {
	var spec sandbox.SeedSpec

	data, err := os.ReadFile(path)
	if err != nil {
		return spec, engine.NewConfigurationError("failed to read seed file", err).WithResource(path)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return spec, engine.NewConfigurationError("failed to parse seed file", err).WithResource(path)
	}
	if err := config.NewSchemaRegistry().ValidateSeed(ctx, raw); err != nil {
		return spec, engine.NewConfigurationError("seed file does not match schema", err).WithResource(path)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, engine.NewConfigurationError("failed to decode seed file", err).WithResource(path)
	}
	return spec, nil
}
