package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect operation guards",
	}

	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the built-in and configured operation guards",
		Long: `List the operation guards evaluated before mutating workflows: the
built-in guards plus the policies found in the policy_paths of the selected
environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				env, err := a.environment(ctx)
				if err != nil {
					return err
				}
				guard, err := a.guard(ctx, env)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
				for _, p := range guard.ListPolicies() {
					source := "file"
					if p.Builtin {
						source = "builtin"
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, strings.TrimSpace(p.Description))
				}
				return w.Flush()
			})
		},
	}

	return cmd
}
