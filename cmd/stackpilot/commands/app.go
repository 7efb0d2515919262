package commands

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stackpilot/stackpilot/pkg/artifacts"
	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/controlplane/sandbox"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/notify"
	"github.com/stackpilot/stackpilot/pkg/policy"
	"github.com/stackpilot/stackpilot/pkg/stores"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
	"github.com/stackpilot/stackpilot/pkg/ui"
)

// clock drives polling and the pauses between one-by-one commands.
var clock engine.Clock = engine.SystemClock{}

// mutatingCommands are audited after they succeed.
var mutatingCommands = map[string]bool{
	"deploy_app":                      true,
	"instance_up":                     true,
	"instance_down":                   true,
	"instance_rebuild":                true,
	"instance_clean":                  true,
	"instance_run_command":            true,
	"cookbook_update_custom_json":     true,
	"cookbook_update_stack_cookbooks": true,
	"cookbook_release":                true,
}

// app holds the process-wide collaborators of one CLI invocation.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	history   *stores.History
	artifacts *artifacts.Router
	sandbox   *sandbox.ControlPlane
	console   *ui.Console
	prompter  *ui.Prompter
	profile   *config.Profile
	logger    zerolog.Logger
}

// newApp loads the user settings and opens the stores.
func newApp(ctx context.Context) (*app, error) {
	settings, err := config.LoadSettings(config.NewViper(settingsPath))
	if err != nil {
		return nil, engine.NewConfigurationError("invalid settings", err)
	}

	level := settings.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
	settings.Telemetry.Logging.Level = level
	settings.Telemetry.ServiceVersion = buildVersion

	profile, err := config.LoadProfile(profileName)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to initialize telemetry", err)
	}
	logger := tel.Logger.Zerolog()
	if profile != nil {
		logger = logger.With().Str("profile", profile.Name).Logger()
		logger.Debug().Str("region", profile.Region).Msg("credentials profile loaded")
	}

	if dir := filepath.Dir(settings.HistoryDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, engine.NewConfigurationError("failed to create history directory", err).WithResource(dir)
		}
	}
	store, err := stores.Open(ctx, settings.HistoryDB)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, engine.NewConfigurationError("failed to open history database", err).WithResource(settings.HistoryDB)
	}
	history := stores.NewHistory(store)

	// Lifecycle events land in the run history of the invocation that emitted them.
	tel.Events.Subscribe(func(e telemetry.Event) {
		if err := history.AppendEvent(context.Background(), e.InvocationID, e.Type, e.Message, e.Data); err != nil {
			logger.Warn().Err(err).Str("event", e.Type).Msg("failed to store event")
		}
	}, nil)

	var sftpConfig *artifacts.SFTPConfig
	if settings.Artifacts.SFTPEnabled {
		c := settings.Artifacts.SFTP
		sftpConfig = &c
	}
	router := artifacts.NewDefaultRouter(logger, sftpConfig)
	cp := sandbox.New(store, settings.Sandbox, logger).WithObjectFetcher(router)

	return &app{
		settings:  settings,
		telemetry: tel,
		store:     store,
		history:   history,
		artifacts: router,
		sandbox:   cp,
		console:   ui.NewConsole(os.Stdout),
		prompter:  ui.NewPrompter(),
		profile:   profile,
		logger:    logger,
	}, nil
}

// Close drains telemetry before the store so buffered events are written.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return errors.Join(
		a.telemetry.Shutdown(ctx),
		a.artifacts.Close(),
		a.store.Close(),
	)
}

// environment loads the project file and selects the environment from the
// flag, STACKPILOT_ENV or an interactive choice.
func (a *app) environment(ctx context.Context) (*config.Environment, error) {
	path := configPath
	if path == "" {
		path = config.DefaultProjectFile
	}
	pf, err := config.LoadProjectFile(path)
	if err != nil {
		return nil, err
	}

	requested := environment
	if requested == "" {
		requested = os.Getenv(config.EnvEnvironment)
	}
	var prompter engine.Prompter
	if a.prompter.Interactive {
		prompter = a.prompter
	}
	name, err := config.SelectEnvironment(ctx, pf, requested, prompter)
	if err != nil {
		return nil, err
	}
	return pf.Environment(ctx, name, config.NewSchemaRegistry())
}

// guard builds the operation guards for env, honouring --skip-guard.
func (a *app) guard(ctx context.Context, env *config.Environment) (*policy.Engine, error) {
	guard, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if err := guard.LoadPolicies(ctx, env.Config.PolicyPaths); err != nil {
		return nil, err
	}
	for _, name := range skipGuards {
		if err := guard.DisablePolicy(name); err != nil {
			return nil, engine.NewConfigurationError("invalid --skip-guard", err).WithResource(name)
		}
		a.console.Warnf("Operation guard %s disabled", name)
	}
	return guard, nil
}

// invocation wires every collaborator of a workflow command.
func (a *app) invocation(ctx context.Context, env *config.Environment, command string, opts engine.InvocationOptions) (*engine.Invocation, error) {
	notifier, err := notify.NewFromConfig(a.settings.Notifier, env.Config.AppName, a.console, a.logger)
	if err != nil {
		return nil, err
	}
	notifier.SetEvents(a.telemetry.Events)

	guard, err := a.guard(ctx, env)
	if err != nil {
		return nil, err
	}

	var hook engine.CustomJSONHook
	if env.Config.CustomJSONScript != "" {
		h := config.NewScriptHook(env.Config.CustomJSONScript)
		h.Vars = map[string]any{
			"environment": env.Name,
			"deploy_type": env.Config.DeployType,
		}
		hook = h
	}

	resolver := &config.Resolver{
		Env:          env,
		ControlPlane: a.sandbox,
		ForceConfig:  forceConfig,
		Verbose:      verbose,
		Reporter:     a.console,
		Logger:       a.logger,
	}

	opts.Command = command
	opts.CustomJSON = config.CustomJSON(opts.CustomJSON, os.LookupEnv)

	return engine.NewInvocation(opts, resolver, engine.Services{
		ControlPlane: a.sandbox,
		Notifier:     notifier,
		Clock:        clock,
		Reporter:     a.console,
		Prompter:     a.prompter,
		Revisions:    &config.GitRevision{},
		Guard:        guard,
		Leases:       a.store,
		Events:       a.telemetry.Events,
		Hook:         hook,
		Logger:       a.logger,
	}), nil
}

// run records inv in the run history and telemetry around fn.
func (a *app) run(ctx context.Context, env *config.Environment, inv *engine.Invocation, fn func(ctx context.Context, o *engine.Orchestrator) error) error {
	command := inv.Options.Command
	scope := a.telemetry.StartInvocation(ctx, inv.ID, command)
	ctx = scope.Ctx
	inv.Logger = scope.Logger.WithEnvironment(env.Name, env.Config.DeployType).Zerolog()

	run := &stores.Run{
		ID:          inv.ID,
		Command:     command,
		Environment: env.Name,
		DeployType:  env.Config.DeployType,
		StartedAt:   time.Now().UTC(),
		Metadata:    "{}",
	}
	if err := a.history.Begin(ctx, run); err != nil {
		inv.Logger.Warn().Err(err).Msg("failed to record run")
	}

	err := fn(ctx, engine.NewOrchestrator(inv))

	bg := context.WithoutCancel(ctx)
	if herr := a.history.Finish(bg, inv.ID, inv.Hostname(), err); herr != nil {
		inv.Logger.Warn().Err(herr).Msg("failed to record run outcome")
	}
	if err == nil && mutatingCommands[command] {
		details := map[string]any{"environment": env.Name, "invocation_id": inv.ID}
		if herr := a.history.Audit(bg, command, actor(), inv.Hostname(), details); herr != nil {
			inv.Logger.Warn().Err(herr).Msg("failed to record audit entry")
		}
	}
	scope.End(err)
	return err
}

// withApp opens the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close")
		}
	}()
	return fn(ctx, a)
}

// workflow runs fn as a recorded workflow of command against the selected environment.
func workflow(ctx context.Context, command string, opts engine.InvocationOptions, fn func(ctx context.Context, o *engine.Orchestrator) error) error {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		env, err := a.environment(ctx)
		if err != nil {
			return err
		}
		inv, err := a.invocation(ctx, env, command, opts)
		if err != nil {
			return err
		}
		return a.run(ctx, env, inv, fn)
	})
}

func actor() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
