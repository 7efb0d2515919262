package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newInstanceCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Terminate idle staging instances",
		Long: `Terminate every cleanable staging instance of the layer whose latest
activity is older than max_instance_duration. Instances tagged as not
cleanable, tagged with another environment, running master or matching
protected_hostnames are skipped.`,
		Example: `  stackpilot instance clean -e staging`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "instance_clean", engine.InvocationOptions{}, func(ctx context.Context, o *engine.Orchestrator) error {
				_, err := o.Clean(ctx)
				return err
			})
		},
	}

	return cmd
}
