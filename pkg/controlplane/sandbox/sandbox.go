package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// Resource kinds persisted in the store.
const (
	kindStack      = "stack"
	kindLayer      = "layer"
	kindApp        = "app"
	kindInstance   = "instance"
	kindDeployment = "deployment"
	kindCommand    = "command"
	kindTags       = "tags"
	kindELB        = "elb"
	kindSchedule   = "schedule"
)

// LogScheme prefixes the URLs of command logs kept in the store.
const LogScheme = "sandbox://"

// DefaultDeployPolls is the number of describe calls before a deployment
// completes.
const DefaultDeployPolls = 2

// Store is the persistence the sandbox needs.
type Store interface {
	PutSandboxResource(ctx context.Context, res *stores.SandboxResource) error
	GetSandboxResource(ctx context.Context, kind, id string) (*stores.SandboxResource, error)
	ListSandboxResources(ctx context.Context, kind, parentID string) ([]*stores.SandboxResource, error)
	DeleteSandboxResource(ctx context.Context, kind, id string) error
	PutObject(ctx context.Context, url string, body []byte) error
	GetObject(ctx context.Context, url string) ([]byte, error)
}

// ObjectFetcher reads objects outside the sandbox (cookbook artifacts).
type ObjectFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config tunes the simulation.
type Config struct {
	// DeployPolls is how many DescribeDeployment calls a deployment stays running.
	DeployPolls int `mapstructure:"deploy_polls"`

	// FailCommands lists command names whose deployments end failed. "setup"
	// also makes instance boots end in setup_failed.
	FailCommands []string `mapstructure:"fail_commands"`
}

// ControlPlane is an engine.ControlPlane backed by the local store. Each
// describe advances an instance by one status; deployments complete after
// DeployPolls describes.
type ControlPlane struct {
	store   Store
	config  Config
	clock   engine.Clock
	objects ObjectFetcher
	logger  zerolog.Logger
	mu      sync.Mutex
}

var _ engine.ControlPlane = (*ControlPlane)(nil)

// New creates a sandbox control plane.
func New(store Store, cfg Config, logger zerolog.Logger) *ControlPlane {
	if cfg.DeployPolls <= 0 {
		cfg.DeployPolls = DefaultDeployPolls
	}
	return &ControlPlane{
		store:  store,
		config: cfg,
		clock:  engine.SystemClock{},
		logger: logger.With().Str("component", "sandbox").Logger(),
	}
}

// WithClock replaces the clock used for timestamps.
func (c *ControlPlane) WithClock(clock engine.Clock) *ControlPlane {
	c.clock = clock
	return c
}

// WithObjectFetcher sets the fetcher used for non-sandbox URLs.
func (c *ControlPlane) WithObjectFetcher(f ObjectFetcher) *ControlPlane {
	c.objects = f
	return c
}

func (c *ControlPlane) now() time.Time {
	return c.clock.Now().UTC()
}

func (c *ControlPlane) fails(command string) bool {
	return slices.Contains(c.config.FailCommands, command)
}

// DescribeStacks returns every seeded stack.
func (c *ControlPlane) DescribeStacks(ctx context.Context) ([]engine.Stack, error) {
	return list[engine.Stack](ctx, c.store, kindStack, "")
}

// DescribeLayers returns the layers of a stack.
func (c *ControlPlane) DescribeLayers(ctx context.Context, stackID string) ([]engine.Layer, error) {
	if _, err := c.stack(ctx, stackID); err != nil {
		return nil, err
	}
	return list[engine.Layer](ctx, c.store, kindLayer, stackID)
}

// DescribeApps returns the apps of a stack.
func (c *ControlPlane) DescribeApps(ctx context.Context, stackID string) ([]engine.App, error) {
	if _, err := c.stack(ctx, stackID); err != nil {
		return nil, err
	}
	return list[engine.App](ctx, c.store, kindApp, stackID)
}

// UpdateStack applies a partial update.
func (c *ControlPlane) UpdateStack(ctx context.Context, stackID string, update engine.StackUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stack, err := c.stack(ctx, stackID)
	if err != nil {
		return err
	}
	if update.CustomJSON != nil {
		stack.CustomJSON = *update.CustomJSON
	}
	if update.UseCustomCookbooks != nil {
		stack.UseCustomCookbooks = *update.UseCustomCookbooks
	}
	if update.CustomCookbooksSource != nil {
		src := *update.CustomCookbooksSource
		stack.CustomCookbooksSource = &src
	}
	c.logger.Debug().Str("stack_id", stackID).Msg("stack updated")
	return put(ctx, c.store, kindStack, stack.ID, "", stack)
}

// SetTimeBasedAutoScaling stores the schedule; an empty schedule removes it.
func (c *ControlPlane) SetTimeBasedAutoScaling(ctx context.Context, instanceID string, schedule engine.AutoScalingSchedule) error {
	if _, err := c.instance(ctx, instanceID); err != nil {
		return err
	}
	if len(schedule) == 0 {
		err := c.store.DeleteSandboxResource(ctx, kindSchedule, instanceID)
		if err != nil && !errors.Is(err, stores.ErrNotFound) {
			return err
		}
		return nil
	}
	if err := schedule.Validate(); err != nil {
		return engine.NewConfigurationError("invalid autoscaling schedule", err).WithResource(instanceID)
	}
	return put(ctx, c.store, kindSchedule, instanceID, "", schedule)
}

// Schedule returns the stored schedule of an instance, nil when none is set.
func (c *ControlPlane) Schedule(ctx context.Context, instanceID string) (engine.AutoScalingSchedule, error) {
	schedule, err := get[engine.AutoScalingSchedule](ctx, c.store, kindSchedule, instanceID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return *schedule, nil
}

// RegisterWithLoadBalancer adds an instance to a named load balancer.
func (c *ControlPlane) RegisterWithLoadBalancer(ctx context.Context, loadBalancer, ec2InstanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	members, err := c.loadBalancer(ctx, loadBalancer)
	if err != nil {
		return err
	}
	if !slices.Contains(members, ec2InstanceID) {
		members = append(members, ec2InstanceID)
	}
	return put(ctx, c.store, kindELB, loadBalancer, "", members)
}

// DeregisterFromLoadBalancer removes an instance from a named load balancer.
func (c *ControlPlane) DeregisterFromLoadBalancer(ctx context.Context, loadBalancer, ec2InstanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	members, err := c.loadBalancer(ctx, loadBalancer)
	if err != nil {
		return err
	}
	members = slices.DeleteFunc(members, func(id string) bool { return id == ec2InstanceID })
	return put(ctx, c.store, kindELB, loadBalancer, "", members)
}

// LoadBalancerMembers returns the instances registered with a load balancer.
func (c *ControlPlane) LoadBalancerMembers(ctx context.Context, loadBalancer string) ([]string, error) {
	return c.loadBalancer(ctx, loadBalancer)
}

func (c *ControlPlane) loadBalancer(ctx context.Context, name string) ([]string, error) {
	members, err := get[[]string](ctx, c.store, kindELB, name)
	if errors.Is(err, stores.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return *members, nil
}

// CreateTags merges tags into the tags of a resource.
func (c *ControlPlane) CreateTags(ctx context.Context, resourceID string, tags engine.Tags) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.DescribeTags(ctx, resourceID)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		idx := slices.IndexFunc(current, func(t engine.Tag) bool { return t.Key == tag.Key })
		if idx >= 0 {
			current[idx] = tag
		} else {
			current = append(current, tag)
		}
	}
	return put(ctx, c.store, kindTags, resourceID, "", current)
}

// DescribeTags returns the tags of a resource. Unknown resources are not_found.
func (c *ControlPlane) DescribeTags(ctx context.Context, resourceID string) (engine.Tags, error) {
	tags, err := get[engine.Tags](ctx, c.store, kindTags, resourceID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewNotFoundError("resource has no tags", err).WithResource(resourceID)
	}
	if err != nil {
		return nil, err
	}
	return *tags, nil
}

// FetchObject reads sandbox logs from the store and delegates every other
// URL to the object fetcher.
func (c *ControlPlane) FetchObject(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, LogScheme) {
		body, err := c.store.GetObject(ctx, url)
		if errors.Is(err, stores.ErrNotFound) {
			return nil, engine.NewNotFoundError("object not found", err).WithResource(url)
		}
		return body, err
	}
	if c.objects == nil {
		return nil, fmt.Errorf("no object fetcher configured for %s", url)
	}
	return c.objects.Fetch(ctx, url)
}

func (c *ControlPlane) stack(ctx context.Context, stackID string) (*engine.Stack, error) {
	stack, err := get[engine.Stack](ctx, c.store, kindStack, stackID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewNotFoundError("stack not found", err).WithResource(stackID)
	}
	return stack, err
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

func ec2ID() string {
	return "i-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:17]
}

func get[T any](ctx context.Context, store Store, kind, id string) (*T, error) {
	res, err := store.GetSandboxResource(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(res.Document, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox %s %s: %w", kind, id, err)
	}
	return &out, nil
}

func list[T any](ctx context.Context, store Store, kind, parentID string) ([]T, error) {
	resources, err := store.ListSandboxResources(ctx, kind, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(resources))
	for _, res := range resources {
		var v T
		if err := json.Unmarshal(res.Document, &v); err != nil {
			return nil, fmt.Errorf("failed to decode sandbox %s %s: %w", kind, res.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func put(ctx context.Context, store Store, kind, id, parentID string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode sandbox %s %s: %w", kind, id, err)
	}
	return store.PutSandboxResource(ctx, &stores.SandboxResource{Kind: kind, ID: id, ParentID: parentID, Document: doc})
}
