package sandbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

type instanceRecord struct {
	engine.Instance
	StackID string                       `json:"stack_id"`
	Target  engine.InstanceStatus        `json:"target"`
	Request engine.CreateInstanceRequest `json:"request"`
}

// DescribeInstances returns instances by layer or ids, advancing each one
// status towards its target.
func (c *ControlPlane) DescribeInstances(ctx context.Context, query engine.InstanceQuery) ([]engine.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var records []instanceRecord
	if len(query.InstanceIDs) > 0 {
		for _, id := range query.InstanceIDs {
			rec, err := c.instance(ctx, id)
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}
	} else {
		all, err := list[instanceRecord](ctx, c.store, kindInstance, "")
		if err != nil {
			return nil, err
		}
		for _, rec := range all {
			if query.LayerID == "" || slices.Contains(rec.LayerIDs, query.LayerID) {
				records = append(records, rec)
			}
		}
	}

	out := make([]engine.Instance, 0, len(records))
	for i := range records {
		if err := c.advance(ctx, &records[i]); err != nil {
			return nil, err
		}
		out = append(out, records[i].Instance)
	}
	return out, nil
}

// CreateInstance creates a stopped instance with a fresh cloud id and an
// empty tag set.
func (c *ControlPlane) CreateInstance(ctx context.Context, req engine.CreateInstanceRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stack(ctx, req.StackID); err != nil {
		return "", err
	}
	if req.Hostname == "" {
		return "", engine.NewConfigurationError("hostname is required", nil).WithOperation("create_instance")
	}
	for _, layerID := range req.LayerIDs {
		if _, err := get[engine.Layer](ctx, c.store, kindLayer, layerID); err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				return "", engine.NewNotFoundError("layer not found", err).WithResource(layerID)
			}
			return "", err
		}
	}

	rec := instanceRecord{
		Instance: engine.Instance{
			ID:            newID(""),
			Hostname:      req.Hostname,
			Status:        engine.InstanceStatusStopped,
			EC2InstanceID: ec2ID(),
			LayerIDs:      append([]string(nil), req.LayerIDs...),
			CreatedAt:     c.now(),
		},
		StackID: req.StackID,
		Target:  engine.InstanceStatusStopped,
		Request: req,
	}
	if err := c.save(ctx, &rec); err != nil {
		return "", err
	}
	if err := put(ctx, c.store, kindTags, rec.EC2InstanceID, "", engine.Tags{}); err != nil {
		return "", err
	}
	c.logger.Info().Str("instance_id", rec.ID).Str("hostname", rec.Hostname).Msg("instance created")
	return rec.ID, nil
}

// StartInstance requests a start. Starting a running instance is a no-op and
// an instance that failed setup stays failed until setup is run again.
func (c *ControlPlane) StartInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.instance(ctx, instanceID)
	if err != nil {
		return err
	}
	rec.Target = engine.InstanceStatusOnline
	if rec.Status == engine.InstanceStatusStopped || rec.Status == engine.InstanceStatusStopping {
		rec.Status = engine.InstanceStatusRequested
	}
	return c.save(ctx, rec)
}

// StopInstance requests a stop.
func (c *ControlPlane) StopInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.instance(ctx, instanceID)
	if err != nil {
		return err
	}
	rec.Target = engine.InstanceStatusStopped
	if rec.Status != engine.InstanceStatusStopped {
		rec.Status = engine.InstanceStatusStopping
	}
	return c.save(ctx, rec)
}

// DeleteInstance deletes a stopped instance together with its tags, schedule
// and load balancer registrations.
func (c *ControlPlane) DeleteInstance(ctx context.Context, instanceID string, deleteVolumes bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.instance(ctx, instanceID)
	if err != nil {
		return err
	}
	if rec.Status != engine.InstanceStatusStopped {
		return engine.NewOperationFailureError(
			fmt.Sprintf("instance must be stopped before deletion, status is %s", rec.Status), nil,
		).WithResource(instanceID)
	}

	for _, kind := range []string{kindTags, kindSchedule} {
		id := instanceID
		if kind == kindTags {
			id = rec.EC2InstanceID
		}
		if err := c.store.DeleteSandboxResource(ctx, kind, id); err != nil && !errors.Is(err, stores.ErrNotFound) {
			return err
		}
	}
	balancers, err := c.store.ListSandboxResources(ctx, kindELB, "")
	if err != nil {
		return err
	}
	for _, lb := range balancers {
		members, err := c.loadBalancer(ctx, lb.ID)
		if err != nil {
			return err
		}
		if slices.Contains(members, rec.EC2InstanceID) {
			members = slices.DeleteFunc(members, func(id string) bool { return id == rec.EC2InstanceID })
			if err := put(ctx, c.store, kindELB, lb.ID, "", members); err != nil {
				return err
			}
		}
	}

	c.logger.Info().
		Str("instance_id", instanceID).
		Bool("delete_volumes", deleteVolumes).
		Msg("instance deleted")
	return c.store.DeleteSandboxResource(ctx, kindInstance, instanceID)
}

func (c *ControlPlane) instance(ctx context.Context, instanceID string) (*instanceRecord, error) {
	rec, err := get[instanceRecord](ctx, c.store, kindInstance, instanceID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewNotFoundError("instance not found", err).WithResource(instanceID)
	}
	return rec, err
}

func (c *ControlPlane) save(ctx context.Context, rec *instanceRecord) error {
	return put(ctx, c.store, kindInstance, rec.ID, rec.StackID, rec)
}

// advance moves the instance one step towards its target and persists it.
func (c *ControlPlane) advance(ctx context.Context, rec *instanceRecord) error {
	next := nextStatus(rec.Status, rec.Target, c.fails("setup"))
	if next == rec.Status {
		return nil
	}
	previous := rec.Status
	rec.Status = next

	switch next {
	case engine.InstanceStatusBooting:
		rec.PrivateIP, rec.PublicIP = addresses(rec.ID)
	case engine.InstanceStatusOnline, engine.InstanceStatusSetupFailed:
		if err := c.recordInstanceCommand(ctx, rec, "setup", next == engine.InstanceStatusOnline); err != nil {
			return err
		}
	case engine.InstanceStatusStopped:
		rec.PublicIP = ""
		if err := c.recordInstanceCommand(ctx, rec, "shutdown", true); err != nil {
			return err
		}
	}

	c.logger.Debug().
		Str("instance_id", rec.ID).
		Str("from", string(previous)).
		Str("to", string(next)).
		Msg("instance advanced")
	return c.save(ctx, rec)
}

// nextStatus is the single transition table of the simulation.
func nextStatus(status, target engine.InstanceStatus, failSetup bool) engine.InstanceStatus {
	if target == engine.InstanceStatusStopped {
		if status == engine.InstanceStatusStopping {
			return engine.InstanceStatusStopped
		}
		return status
	}
	switch status {
	case engine.InstanceStatusRequested:
		return engine.InstanceStatusPending
	case engine.InstanceStatusPending:
		return engine.InstanceStatusBooting
	case engine.InstanceStatusBooting:
		return engine.InstanceStatusRunningSetup
	case engine.InstanceStatusRunningSetup:
		if failSetup {
			return engine.InstanceStatusSetupFailed
		}
		return engine.InstanceStatusOnline
	default:
		return status
	}
}

// addresses derives stable documentation-range addresses from the id.
func addresses(id string) (private, public string) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	private = fmt.Sprintf("10.0.%d.%d", (sum>>8)&0xff, sum&0xff|1)
	public = fmt.Sprintf("203.0.113.%d", (sum>>16)&0x7f|1)
	return private, public
}
