package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DiagnoseOptions control failure diagnostics.
type DiagnoseOptions struct {
	// LastOnly stops after the first command.
	LastOnly bool

	// Manifest is merged into every failure notification.
	Manifest Manifest
}

// Diagnostics reads the logs of failed commands and escalates to the notifier.
type Diagnostics struct {
	controlPlane ControlPlane
	notifier     Notifier
	reporter     Reporter
	logLines     int
	logger       zerolog.Logger
}

// NewDiagnostics creates a Diagnostics keeping the last logLines lines of each log.
func NewDiagnostics(cp ControlPlane, notifier Notifier, reporter Reporter, logLines int, logger zerolog.Logger) *Diagnostics {
	if logLines <= 0 {
		logLines = DefaultCommandLogLines
	}
	return &Diagnostics{
		controlPlane: cp,
		notifier:     notifier,
		reporter:     reporter,
		logLines:     logLines,
		logger:       logger.With().Str("component", "diagnostics").Logger(),
	}
}

// TailLines returns the last n lines of content.
func TailLines(content string, n int) []string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Diagnose prints the log tail of every command in scope and sends one failure
// notification per command. It always returns an operation failure error.
func (d *Diagnostics) Diagnose(ctx context.Context, scope CommandQuery, opts DiagnoseOptions) error {
	resource, code := scope.DeploymentID, ErrCodeDeployFailed
	if resource == "" {
		resource, code = scope.InstanceID, ErrCodeSetupFailed
	}
	failure := NewOperationFailureError("operation reached a non-success terminal status", nil).
		WithResource(resource).
		WithCode(code).
		WithOperation("diagnose")

	commands, err := d.controlPlane.DescribeCommands(ctx, scope)
	if err != nil {
		d.logger.Error().Err(err).Str("resource", resource).Msg("failed to describe commands")
		failure.Err = err
		return failure
	}

	for _, cmd := range commands {
		if cmd.LogURL != "" {
			d.printLog(ctx, cmd.LogURL)
		}

		n := Notification{
			Kind:   NotifyRelease,
			Title:  "Deployment failure",
			Status: StatusFailure,
			Manifest: opts.Manifest.
				With("command", cmd.Type).
				With("status", cmd.Status),
		}
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Warn().Err(err).Msg("failed to send failure notification")
		}

		failure.WithDetail("command", cmd.Type).WithDetail("status", cmd.Status)
		if opts.LastOnly {
			break
		}
	}

	return failure
}

func (d *Diagnostics) printLog(ctx context.Context, url string) {
	d.reporter.Infof("Reading last %d lines from %s", d.logLines, url)
	content, err := d.controlPlane.FetchObject(ctx, url)
	if err != nil {
		d.reporter.Warnf("could not read log %s: %v", url, err)
		return
	}
	d.reporter.Block(fmt.Sprintf("Log file at: %s", url), strings.Join(TailLines(string(content), d.logLines), "\n"))
}
