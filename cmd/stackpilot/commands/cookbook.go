package commands

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/cookbook"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newCookbookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookbook",
		Short: "Vendor, package and release custom cookbooks",
		Long: `Manage the custom cookbooks of the stack.

Every subcommand needs cookbook_dir, cookbook_store, cookbook_path,
cookbook_name and cookbook_version in the selected environment. vendor,
package, upload and cleanup only touch local files and the artifact store;
the other subcommands update the stack after confirmation.`,
		Example: `  # Vendor, package, upload and point the stack at the new cookbooks
  stackpilot cookbook release -e staging

  # Push config/cookbooks/custom.json to the stack
  stackpilot cookbook update-custom-json -e staging`,
	}

	cmd.AddCommand(localCookbookCommand("vendor", "Vendor cookbooks with berks", func(ctx context.Context, m *cookbook.Manager) error {
		if err := m.Vendor(ctx); err != nil {
			return err
		}
		m.Reporter.Successf("Cookbooks vendored")
		return nil
	}))
	cmd.AddCommand(localCookbookCommand("package", "Zip the vendored cookbooks", func(ctx context.Context, m *cookbook.Manager) error {
		artifact, err := m.Package(ctx)
		if err != nil {
			return err
		}
		m.Reporter.Successf("Packaged %s", artifact)
		return nil
	}))
	cmd.AddCommand(localCookbookCommand("upload", "Upload the packaged cookbooks to the cookbook store", func(ctx context.Context, m *cookbook.Manager) error {
		_, err := m.Upload(ctx)
		return err
	}))
	cmd.AddCommand(localCookbookCommand("cleanup", "Remove packaged zips and the vendor directory", func(ctx context.Context, m *cookbook.Manager) error {
		if err := m.Cleanup(ctx); err != nil {
			return err
		}
		m.Reporter.Successf("Cleaned up")
		return nil
	}))

	cmd.AddCommand(stackCookbookCommand("update-custom-json", "cookbook_update_custom_json",
		"Replace the stack custom JSON with the cookbook custom JSON file", (*cookbook.Manager).UpdateCustomJSON))
	cmd.AddCommand(stackCookbookCommand("update-stack-cookbooks", "cookbook_update_stack_cookbooks",
		"Point the stack at the uploaded cookbooks", (*cookbook.Manager).UpdateStackCookbooks))
	cmd.AddCommand(stackCookbookCommand("release", "cookbook_release",
		"Vendor, package, upload and update the stack cookbooks", (*cookbook.Manager).Release))

	return cmd
}

// localCookbookCommand builds a subcommand that reads the cookbook settings
// literally from the config file, without control plane discovery.
func localCookbookCommand(use, short string, fn func(ctx context.Context, m *cookbook.Manager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				env, err := a.environment(ctx)
				if err != nil {
					return err
				}
				resolver := &config.Resolver{Env: env, ForceConfig: true, Logger: a.logger}
				cfg, err := resolver.Resolve(ctx)
				if err != nil {
					return err
				}
				m, err := a.cookbookManager(cfg, a.prompter, a.logger)
				if err != nil {
					return err
				}
				return fn(ctx, m)
			})
		},
	}
}

// stackCookbookCommand builds a recorded subcommand that updates the stack.
func stackCookbookCommand(use, command, short string, fn func(m *cookbook.Manager, ctx context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				env, err := a.environment(ctx)
				if err != nil {
					return err
				}
				inv, err := a.invocation(ctx, env, command, engine.InvocationOptions{})
				if err != nil {
					return err
				}
				return a.run(ctx, env, inv, func(ctx context.Context, o *engine.Orchestrator) error {
					cfg, err := inv.Config(ctx)
					if err != nil {
						return err
					}
					m, err := a.cookbookManager(cfg, inv.Prompter, inv.Logger)
					if err != nil {
						return err
					}
					return fn(m, ctx)
				})
			})
		},
	}
}

func (a *app) cookbookManager(cfg *engine.ResolvedConfig, prompter engine.Prompter, logger zerolog.Logger) (*cookbook.Manager, error) {
	runner := &cookbook.ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
	return cookbook.NewManager(cfg, a.sandbox, a.artifacts, runner, prompter, a.console, logger)
}
