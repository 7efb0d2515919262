package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/ui"
)

var (
	// Global flags
	environment  string
	configPath   string
	settingsPath string
	profileName  string
	forceConfig  bool
	verbose      bool
	logLevel     string
	skipGuards   []string

	buildVersion = "dev"
)

// Execute runs the root command. Errors are printed here; the caller only
// maps them to an exit code.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stderr := ui.NewConsole(os.Stderr)
		if engine.IsKind(err, engine.KindDeclined) {
			stderr.Warnf("%s", err)
		} else {
			stderr.Errorf("%s", err)
		}
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackpilot",
		Short: "stackpilot - application stack instance and deployment orchestrator",
		Long: `stackpilot drives instances of a managed application stack through their
lifecycle and deploys application code to them.

Features:
  - Staging instances named after the checked-out branch
  - Production fan-out deployments with migrations on the first instance
  - Cleanup of idle staging instances
  - Remote commands and recipes across a layer
  - Cookbook vendoring, packaging and release
  - Operation guards written in Rego
  - Local sandbox control plane for dry runs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&environment, "environment", "e", "", "config environment (default $STACKPILOT_ENV)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "project config file (default config/stackpilot.yml)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "user settings file")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "credentials profile stored in the system keyring")
	rootCmd.PersistentFlags().BoolVarP(&forceConfig, "force-config", "f", false, "read stack parameters strictly from the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&skipGuards, "skip-guard", nil, "disable the named operation guard")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newInstanceCommand())
	rootCmd.AddCommand(newStackCommand())
	rootCmd.AddCommand(newCookbookCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newSandboxCommand())

	return rootCmd
}
