package stores

import (
	"context"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// RunStatus represents the status of a recorded invocation
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
	RunStatusDeclined RunStatus = "declined"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// RunStatusFor maps the error returned by a workflow to a run status.
func RunStatusFor(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusSuccess
	case engine.IsKind(err, engine.KindDeclined):
		return RunStatusDeclined
	default:
		return RunStatusFailed
	}
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one CLI invocation
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Environment string     `json:"environment"`
	DeployType  string     `json:"deploy_type,omitempty"`
	Hostname    string     `json:"hostname,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
}

// Event is an append-only lifecycle event of a run
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// AuditEntry records a mutating action taken against the control plane
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "instance.up", "cookbook.release"
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// SandboxResource is a JSON document owned by the sandbox control plane
type SandboxResource struct {
	Kind      string
	ID        string
	ParentID  string
	Document  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, hostname string, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Advisory leases
	engine.LeaseManager

	// Sandbox state
	PutSandboxResource(ctx context.Context, res *SandboxResource) error
	GetSandboxResource(ctx context.Context, kind, id string) (*SandboxResource, error)
	ListSandboxResources(ctx context.Context, kind, parentID string) ([]*SandboxResource, error)
	DeleteSandboxResource(ctx context.Context, kind, id string) error
	PutObject(ctx context.Context, url string, body []byte) error
	GetObject(ctx context.Context, url string) ([]byte, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
