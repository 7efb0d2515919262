package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

type deploymentRecord struct {
	engine.Deployment
	CustomJSON string `json:"custom_json,omitempty"`
	Polls      int    `json:"polls"`
}

const (
	commandPending    = "pending"
	commandSuccessful = "successful"
	commandFailed     = "failed"
)

// CreateDeployment submits a deployment. Without instance ids it targets
// every online instance of the stack.
func (c *ControlPlane) CreateDeployment(ctx context.Context, req engine.DeploymentRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stack(ctx, req.StackID); err != nil {
		return "", err
	}
	if req.Command.Name == "" {
		return "", engine.NewConfigurationError("deployment command is required", nil)
	}
	if req.AppID != "" {
		if _, err := get[engine.App](ctx, c.store, kindApp, req.AppID); err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				return "", engine.NewNotFoundError("app not found", err).WithResource(req.AppID)
			}
			return "", err
		}
	}

	targets := req.InstanceIDs
	if len(targets) == 0 {
		all, err := list[instanceRecord](ctx, c.store, kindInstance, req.StackID)
		if err != nil {
			return "", err
		}
		for _, rec := range all {
			if rec.Status == engine.InstanceStatusOnline {
				targets = append(targets, rec.ID)
			}
		}
	}
	for _, id := range targets {
		if _, err := c.instance(ctx, id); err != nil {
			return "", err
		}
	}

	now := c.now()
	rec := deploymentRecord{
		Deployment: engine.Deployment{
			ID:          newID(""),
			StackID:     req.StackID,
			AppID:       req.AppID,
			Command:     req.Clone().Command,
			InstanceIDs: append([]string(nil), targets...),
			Status:      engine.DeploymentStatusRunning,
			CreatedAt:   now,
		},
		CustomJSON: req.CustomJSON,
	}
	if err := put(ctx, c.store, kindDeployment, rec.ID, rec.StackID, rec); err != nil {
		return "", err
	}

	for _, instanceID := range targets {
		cmd := engine.Command{
			ID:           newID(""),
			DeploymentID: rec.ID,
			InstanceID:   instanceID,
			Type:         req.Command.Name,
			Status:       commandPending,
			CreatedAt:    now,
		}
		if err := put(ctx, c.store, kindCommand, cmd.ID, instanceID, cmd); err != nil {
			return "", err
		}
	}

	c.logger.Info().
		Str("deployment_id", rec.ID).
		Str("command", req.Command.Name).
		Int("instances", len(targets)).
		Msg("deployment created")
	return rec.ID, nil
}

// DescribeDeployment counts a poll and completes the deployment once
// DeployPolls polls have been made.
func (c *ControlPlane) DescribeDeployment(ctx context.Context, deploymentID string) (*engine.Deployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := get[deploymentRecord](ctx, c.store, kindDeployment, deploymentID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewNotFoundError("deployment not found", err).WithResource(deploymentID)
	}
	if err != nil {
		return nil, err
	}

	if !rec.IsCompleted() {
		rec.Polls++
		if rec.Polls >= c.config.DeployPolls {
			if err := c.complete(ctx, rec); err != nil {
				return nil, err
			}
		}
		if err := put(ctx, c.store, kindDeployment, rec.ID, rec.StackID, rec); err != nil {
			return nil, err
		}
	}

	out := rec.Deployment
	return &out, nil
}

// DescribeCommands returns the commands of a deployment or an instance,
// oldest first.
func (c *ControlPlane) DescribeCommands(ctx context.Context, query engine.CommandQuery) ([]engine.Command, error) {
	all, err := list[engine.Command](ctx, c.store, kindCommand, query.InstanceID)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Command, 0, len(all))
	for _, cmd := range all {
		if query.DeploymentID != "" && cmd.DeploymentID != query.DeploymentID {
			continue
		}
		out = append(out, cmd)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *ControlPlane) complete(ctx context.Context, rec *deploymentRecord) error {
	now := c.now()
	failed := c.fails(rec.Command.Name)

	rec.CompletedAt = &now
	rec.Status = engine.DeploymentStatusSuccessful
	if failed {
		rec.Status = engine.DeploymentStatusFailed
	}

	commands, err := c.DescribeCommands(ctx, engine.CommandQuery{DeploymentID: rec.ID})
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		acked := cmd.CreatedAt.Add(time.Second)
		cmd.AcknowledgedAt = &acked
		cmd.CompletedAt = &now
		cmd.Status = commandSuccessful
		if failed {
			cmd.Status = commandFailed
		}
		cmd.LogURL = LogScheme + "logs/" + cmd.ID

		hostname := cmd.InstanceID
		if inst, err := c.instance(ctx, cmd.InstanceID); err == nil {
			hostname = inst.Hostname
			if rec.Command.Name == "setup" && !failed && inst.Status == engine.InstanceStatusSetupFailed {
				inst.Status = engine.InstanceStatusOnline
				if err := c.save(ctx, inst); err != nil {
					return err
				}
			}
		}

		if err := c.store.PutObject(ctx, cmd.LogURL, commandLog(cmd, hostname, rec.Command, failed)); err != nil {
			return err
		}
		if err := put(ctx, c.store, kindCommand, cmd.ID, cmd.InstanceID, cmd); err != nil {
			return err
		}
	}
	return nil
}

// recordInstanceCommand stores a completed lifecycle command of an instance.
func (c *ControlPlane) recordInstanceCommand(ctx context.Context, rec *instanceRecord, name string, ok bool) error {
	now := c.now()
	cmd := engine.Command{
		ID:             newID(""),
		InstanceID:     rec.ID,
		Type:           name,
		Status:         commandSuccessful,
		CreatedAt:      now,
		AcknowledgedAt: &now,
		CompletedAt:    &now,
	}
	if !ok {
		cmd.Status = commandFailed
	}
	cmd.LogURL = LogScheme + "logs/" + cmd.ID
	if err := c.store.PutObject(ctx, cmd.LogURL, commandLog(cmd, rec.Hostname, engine.DeploymentCommand{Name: name}, !ok)); err != nil {
		return err
	}
	return put(ctx, c.store, kindCommand, cmd.ID, rec.ID, cmd)
}

func commandLog(cmd engine.Command, hostname string, command engine.DeploymentCommand, failed bool) []byte {
	var b strings.Builder
	ts := cmd.CreatedAt.Format(time.RFC3339)
	fmt.Fprintf(&b, "[%s] INFO: Started %s on %s\n", ts, command.Name, hostname)
	keys := make([]string, 0, len(command.Args))
	for k := range command.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "[%s] INFO: Argument %s = %s\n", ts, k, strings.Join(command.Args[k], ","))
	}
	for _, recipe := range command.Args["recipes"] {
		fmt.Fprintf(&b, "[%s] INFO: Running recipe %s\n", ts, recipe)
	}
	if failed {
		fmt.Fprintf(&b, "[%s] ERROR: %s failed on %s\n", ts, command.Name, hostname)
		fmt.Fprintf(&b, "[%s] FATAL: Stacktrace dumped to /var/chef/cache/chef-stacktrace.out\n", ts)
	} else {
		fmt.Fprintf(&b, "[%s] INFO: %s finished on %s\n", ts, command.Name, hostname)
	}
	return []byte(b.String())
}
