package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	var opts engine.InvocationOptions

	cmd := &cobra.Command{
		Use:     "deploy-app",
		Aliases: []string{"deploy"},
		Short:   "Deploy the application",
		Long: `Deploy the latest application revision.

Staging environments deploy the instance named after the current branch.
Production environments deploy every online instance of the layer, running
migrations on the first one only.`,
		Example: `  # Deploy the checked-out branch to its staging instance
  stackpilot deploy-app -e staging

  # Deploy another branch with extra custom JSON
  stackpilot deploy-app -e staging --branch feature-x --custom-json '{"debug":true}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "deploy_app", opts, func(ctx context.Context, o *engine.Orchestrator) error {
				return o.DeployApp(ctx)
			})
		},
	}

	addTargetFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.CustomJSON, "custom-json", "", "custom deployment JSON (default $STACKPILOT_CUSTOM_JSON)")

	return cmd
}

// addTargetFlags registers the flags selecting the revision and hostname.
func addTargetFlags(cmd *cobra.Command, opts *engine.InvocationOptions) {
	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", "", "revision to use on staging targets (default current git branch)")
	cmd.Flags().StringVar(&opts.Hostname, "hostname", "", "override the resolved hostname")
}
