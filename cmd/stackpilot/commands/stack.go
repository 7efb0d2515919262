package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newStackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Inspect the application stack",
	}

	cmd.AddCommand(newStackDescribeCommand())

	return cmd
}

func newStackDescribeCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the stack, its layers and its apps as JSON",
		Example: `  stackpilot stack describe -e staging
  stackpilot stack describe -e staging --name "Other Stack"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow(cmd.Context(), "stack_describe", engine.InvocationOptions{}, func(ctx context.Context, o *engine.Orchestrator) error {
				summary, err := o.DescribeStack(ctx, name)
				if err != nil {
					return err
				}
				out, err := summary.MarshalIndent()
				if err != nil {
					return engine.NewInternalError("failed to encode stack", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "stack name (default the configured stack)")

	return cmd
}
