package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Dispatcher submits deployments and tracks them to completion.
type Dispatcher struct {
	controlPlane ControlPlane
	poller       *Poller
	diagnoser    Diagnoser
	reporter     Reporter
	events       EventRecorder
	logger       zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cp ControlPlane, poller *Poller, diagnoser Diagnoser, reporter Reporter, events EventRecorder, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		controlPlane: cp,
		poller:       poller,
		diagnoser:    diagnoser,
		reporter:     reporter,
		events:       events,
		logger:       logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchOptions tune one dispatch.
type DispatchOptions struct {
	// WaitIterations bounds the poller.
	WaitIterations int

	// Manifest is reported on timeout and failure.
	Manifest Manifest

	// StatusLine, when set, is printed at every minute mark instead of the
	// deployment status.
	StatusLine func(ctx context.Context) string
}

// Dispatch submits req against instanceIDs (all layer instances when empty) and
// polls the deployment until it completes. A non-success terminal status invokes
// the diagnoser exactly once and its error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req DeploymentRequest, instanceIDs []string, opts DispatchOptions) (*Deployment, error) {
	req = req.Clone()
	if len(instanceIDs) > 0 {
		req.InstanceIDs = append([]string(nil), instanceIDs...)
	}

	deploymentID, err := d.controlPlane.CreateDeployment(ctx, req)
	if err != nil {
		return nil, NewInternalError("failed to create deployment", err).
			WithOperation(req.Command.Name).
			WithCode(ErrCodeGatewayFailed)
	}
	d.logger.Info().
		Str("deployment_id", deploymentID).
		Str("command", req.Command.Name).
		Strs("instance_ids", req.InstanceIDs).
		Msg("deployment created")
	d.record(ctx, EventDeploymentCreated, "deployment created", map[string]any{
		"deployment_id": deploymentID,
		"command":       req.Command.Name,
	})

	manifest := opts.Manifest.With("deployment_id", deploymentID)

	var deployment *Deployment
	err = d.poller.Poll(ctx, opts.WaitIterations, manifest, func(ctx context.Context, i int) (bool, error) {
		dep, err := d.controlPlane.DescribeDeployment(ctx, deploymentID)
		if err != nil {
			return false, NewInternalError("failed to describe deployment", err).WithResource(deploymentID)
		}
		deployment = dep
		if dep.IsCompleted() {
			d.reporter.Progress(" " + string(dep.Status) + "\n")
			return true, nil
		}
		d.reporter.Progress(".")
		if IsMinuteMark(i) {
			status := string(dep.Status)
			if opts.StatusLine != nil {
				status = opts.StatusLine(ctx)
			}
			d.reporter.Progress(fmt.Sprintf(" %s :", status))
		}
		return false, nil
	})
	if err != nil {
		return deployment, err
	}

	d.record(ctx, EventDeploymentFinished, "deployment finished", map[string]any{
		"deployment_id": deploymentID,
		"status":        string(deployment.Status),
	})

	if !deployment.Status.IsSuccessful() {
		d.logger.Error().
			Str("deployment_id", deploymentID).
			Str("status", string(deployment.Status)).
			Msg("deployment failed")
		return deployment, d.diagnoser.Diagnose(ctx, CommandQuery{DeploymentID: deploymentID}, DiagnoseOptions{Manifest: manifest})
	}
	return deployment, nil
}

func (d *Dispatcher) record(ctx context.Context, eventType, message string, data map[string]any) {
	if d.events != nil {
		d.events.Record(ctx, eventType, message, data)
	}
}
