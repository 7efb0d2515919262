package commands

import (
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/ui"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage credentials profiles in the system keyring",
	}

	cmd.AddCommand(newProfileSaveCommand())
	cmd.AddCommand(newProfileDeleteCommand())

	return cmd
}

func newProfileSaveCommand() *cobra.Command {
	var p config.Profile

	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Store a credentials profile",
		Long: `Store control plane credentials under NAME in the system keyring.
Keys not given as flags are asked for.`,
		Example: `  stackpilot profile save work --region us-east-1
  stackpilot --profile work instance up -e staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			prompter := ui.NewPrompter()
			p.Name = args[0]

			if p.AccessKeyID == "" {
				v, err := prompter.Input(ctx, "Access key id:")
				if err != nil {
					return err
				}
				p.AccessKeyID = v
			}
			if p.SecretAccessKey == "" {
				v, err := prompter.Input(ctx, "Secret access key:")
				if err != nil {
					return err
				}
				p.SecretAccessKey = v
			}
			if p.AccessKeyID == "" || p.SecretAccessKey == "" {
				return engine.NewCredentialsError("access key id and secret access key are required", nil).WithResource(p.Name)
			}

			if err := config.SaveProfile(&p); err != nil {
				return engine.NewCredentialsError("failed to save profile", err).WithResource(p.Name)
			}
			ui.NewConsole(cmd.OutOrStdout()).Successf("Profile %s saved", p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.AccessKeyID, "access-key-id", "", "access key id")
	cmd.Flags().StringVar(&p.SecretAccessKey, "secret-access-key", "", "secret access key")
	cmd.Flags().StringVar(&p.SessionToken, "session-token", "", "session token")
	cmd.Flags().StringVar(&p.Region, "region", "", "default region")

	return cmd
}

func newProfileDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a credentials profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteProfile(args[0]); err != nil {
				return engine.NewCredentialsError("failed to delete profile", err).WithResource(args[0])
			}
			ui.NewConsole(cmd.OutOrStdout()).Successf("Profile %s deleted", args[0])
			return nil
		},
	}
}
