package engine

import (
	"context"
	"time"
)

// ControlPlane is the gateway to the managed application platform.
// All calls are synchronous request/response and are never retried by the engine;
// only domain-level status polling is retried.
type ControlPlane interface {
	// DescribeStacks returns every stack visible to the caller.
	DescribeStacks(ctx context.Context) ([]Stack, error)

	// DescribeLayers returns the layers of a stack.
	DescribeLayers(ctx context.Context, stackID string) ([]Layer, error)

	// DescribeApps returns the apps of a stack.
	DescribeApps(ctx context.Context, stackID string) ([]App, error)

	// DescribeInstances returns instances by layer or by explicit ids.
	DescribeInstances(ctx context.Context, query InstanceQuery) ([]Instance, error)

	// CreateInstance creates an instance and returns its id.
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (string, error)

	// StartInstance requests an instance start.
	StartInstance(ctx context.Context, instanceID string) error

	// StopInstance requests an instance stop.
	StopInstance(ctx context.Context, instanceID string) error

	// DeleteInstance deletes a stopped instance, optionally deleting its volumes.
	DeleteInstance(ctx context.Context, instanceID string, deleteVolumes bool) error

	// CreateDeployment submits a deployment and returns its id.
	CreateDeployment(ctx context.Context, req DeploymentRequest) (string, error)

	// DescribeDeployment returns the current state of a deployment.
	DescribeDeployment(ctx context.Context, deploymentID string) (*Deployment, error)

	// DescribeCommands returns the commands of a deployment or an instance.
	DescribeCommands(ctx context.Context, query CommandQuery) ([]Command, error)

	// SetTimeBasedAutoScaling replaces the boot schedule of an instance.
	SetTimeBasedAutoScaling(ctx context.Context, instanceID string, schedule AutoScalingSchedule) error

	// RegisterWithLoadBalancer adds a cloud-provider instance to a load balancer.
	RegisterWithLoadBalancer(ctx context.Context, loadBalancer, ec2InstanceID string) error

	// DeregisterFromLoadBalancer removes a cloud-provider instance from a load balancer.
	DeregisterFromLoadBalancer(ctx context.Context, loadBalancer, ec2InstanceID string) error

	// CreateTags attaches tags to a cloud-provider resource.
	CreateTags(ctx context.Context, resourceID string, tags Tags) error

	// DescribeTags returns the tags of a cloud-provider resource. A resource
	// unknown to the provider returns a not_found error.
	DescribeTags(ctx context.Context, resourceID string) (Tags, error)

	// UpdateStack applies a partial stack update.
	UpdateStack(ctx context.Context, stackID string, update StackUpdate) error

	// FetchObject returns the remote content at url (command logs, cookbook artifacts).
	FetchObject(ctx context.Context, url string) ([]byte, error)
}

// NotificationKind selects the notification channel handler.
type NotificationKind string

const (
	NotifyRelease      NotificationKind = "release"
	NotifyInstanceUp   NotificationKind = "instance_up"
	NotifyInstanceDown NotificationKind = "instance_down"
)

// NotificationStatus is the colour of a notification.
type NotificationStatus string

const (
	StatusSuccess NotificationStatus = "success"
	StatusFailure NotificationStatus = "failure"
)

// Notification is one operator-facing message.
type Notification struct {
	Kind     NotificationKind   `json:"kind"`
	Title    string             `json:"title"`
	Status   NotificationStatus `json:"status"`
	Manifest Manifest           `json:"manifest"`
}

// Notifier delivers notifications. Implementations fall back to the console
// rather than failing when no channel is configured.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Clock abstracts time so polling can be simulated.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Prompter asks the operator for input.
type Prompter interface {
	// Select asks the operator to pick one of options.
	Select(ctx context.Context, title string, options []string) (string, error)

	// Input asks the operator for free text.
	Input(ctx context.Context, title string) (string, error)

	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, question string) (bool, error)
}

// Reporter renders operator-facing progress. It is not the structured log.
type Reporter interface {
	// Progress prints a progress marker without a newline.
	Progress(marker string)

	// Infof prints an informational line.
	Infof(format string, args ...any)

	// Warnf prints a warning line.
	Warnf(format string, args ...any)

	// Successf prints a success line.
	Successf(format string, args ...any)

	// Errorf prints an error line.
	Errorf(format string, args ...any)

	// Block prints a titled block of preformatted text.
	Block(title, body string)
}

// RevisionSource returns the revision checked out in the working tree.
type RevisionSource interface {
	CurrentRevision(ctx context.Context) (string, error)
}

// Diagnoser reports the failure of a deployment or instance. It always returns a
// non-nil error describing the failure.
type Diagnoser interface {
	Diagnose(ctx context.Context, scope CommandQuery, opts DiagnoseOptions) error
}

// Lease is an advisory lock held for the lifetime of a mutating workflow.
type Lease interface {
	// Renew extends the lease by ttl from now. It fails with a configuration
	// error coded ErrCodeStackBusy once another holder has taken the lease over.
	Renew(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LeaseManager grants advisory leases keyed by stack and layer.
type LeaseManager interface {
	// Acquire takes the lease for key or fails with a configuration error coded
	// ErrCodeStackBusy when another live holder exists.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (Lease, error)
}

// Guard evaluates operation guards before a mutating workflow runs.
type Guard interface {
	Check(ctx context.Context, op GuardInput) error
}

// GuardInput is the document evaluated by operation guards.
type GuardInput struct {
	Operation          string     `json:"operation"`
	DeployType         DeployType `json:"deploy_type"`
	Environment        string     `json:"environment"`
	Hostname           string     `json:"hostname,omitempty"`
	ProtectedHostnames []string   `json:"protected_hostnames,omitempty"`
}

// EventRecorder receives lifecycle events of an invocation.
type EventRecorder interface {
	Record(ctx context.Context, eventType, message string, data map[string]any)
}
