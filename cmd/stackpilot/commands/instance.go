package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newInstanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage stack instances",
		Long: `Bring instances up and down, rebuild them, clean idle staging
instances and run remote commands across a layer.`,
	}

	cmd.AddCommand(newInstanceUpCommand())
	cmd.AddCommand(newInstanceDownCommand())
	cmd.AddCommand(newInstanceRebuildCommand())
	cmd.AddCommand(newInstanceCleanCommand())
	cmd.AddCommand(newInstanceRunCommandCommand())

	return cmd
}

func newInstanceUpCommand() *cobra.Command {
	var opts engine.InvocationOptions

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring up an instance and deploy to it",
		Long: `Create (or reuse, on staging) the instance for the resolved hostname,
start it, wait for it to come online, tag it and deploy the application.`,
		Example: `  stackpilot instance up -e staging
  stackpilot instance up -e production`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "instance_up", opts, func(ctx context.Context, o *engine.Orchestrator) error {
				return o.Up(ctx)
			})
		},
	}

	addTargetFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.CustomJSON, "custom-json", "", "custom deployment JSON (default $STACKPILOT_CUSTOM_JSON)")

	return cmd
}

func newInstanceDownCommand() *cobra.Command {
	var opts engine.InvocationOptions

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and delete the instance",
		Long: `Deregister the instance for the resolved hostname from its load
balancer, stop it, wait for it to stop and delete it with its volumes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "instance_down", opts, func(ctx context.Context, o *engine.Orchestrator) error {
				return o.Down(ctx)
			})
		},
	}

	addTargetFlags(cmd, &opts)

	return cmd
}

func newInstanceRebuildCommand() *cobra.Command {
	var opts engine.InvocationOptions

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Tear down the instance and bring it up again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "instance_rebuild", opts, func(ctx context.Context, o *engine.Orchestrator) error {
				return o.Rebuild(ctx)
			})
		},
	}

	addTargetFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.CustomJSON, "custom-json", "", "custom deployment JSON (default $STACKPILOT_CUSTOM_JSON)")

	return cmd
}
