package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newInstanceRunCommandCommand() *cobra.Command {
	var (
		opts engine.InvocationOptions
		mode string
	)

	cmd := &cobra.Command{
		Use:   "run-command",
		Short: "Run a remote command on every layer instance",
		Long: `Run one of the remote commands (` + strings.Join(engine.RemoteCommands(), ", ") + `)
against every instance of the layer, either in a single deployment or one
instance at a time. Missing inputs are asked for interactively.`,
		Example: `  # Pick the command and mode interactively
  stackpilot instance run-command -e production

  # Run recipes one instance at a time
  stackpilot instance run-command -e production --command execute_recipes \
    --recipes "app::restart,app::warm" --mode one_by_one`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mode = engine.RunCommandMode(mode)
			return workflow(cmd.Context(), "instance_run_command", opts, func(ctx context.Context, o *engine.Orchestrator) error {
				_, err := o.RunCommand(ctx)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.RemoteCommand, "command", "", "remote command to run")
	cmd.Flags().StringVar(&opts.Recipes, "recipes", "", "comma separated recipes for execute_recipes")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode ("+strings.Join(engine.RunCommandModes(), ", ")+")")

	return cmd
}
