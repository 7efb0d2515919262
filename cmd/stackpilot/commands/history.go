package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded invocations",
	}

	cmd.AddCommand(newHistoryListCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				runs, runEvents, err := a.history.Runs(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					a.console.Infof("No invocations recorded")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tCOMMAND\tENVIRONMENT\tHOSTNAME\tSTATUS\tID")
				for _, run := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						run.StartedAt.Local().Format(time.DateTime), run.Command, run.Environment,
						dash(run.Hostname), run.Status, run.ID)
					if run.Error != nil {
						fmt.Fprintf(w, "\t  error: %s\t\t\t\t\n", *run.Error)
					}
					if !events {
						continue
					}
					for _, e := range runEvents[run.ID] {
						fmt.Fprintf(w, "\t  %s %s [%s] %s\t\t\t\t\n",
							e.Timestamp.Local().Format(time.TimeOnly), e.Type, e.Level, e.Message)
					}
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of invocations to list")
	cmd.Flags().BoolVar(&events, "events", false, "include lifecycle events")

	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
