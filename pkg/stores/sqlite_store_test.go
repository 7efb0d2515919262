package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temp dir
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "stackpilot.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// A second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"runs", "events", "audit", "leases", "sandbox_resources", "sandbox_objects"}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	history := NewHistory(store)
	ctx := context.Background()

	run := &Run{ID: "run-1", Command: "instance up", Environment: "staging"}
	if err := history.Begin(ctx, run); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusRunning || got.CompletedAt != nil || got.Metadata != "{}" {
		t.Errorf("Unexpected running run %+v", got)
	}

	if err := history.Finish(ctx, "run-1", "feature-x", engine.NewTimeoutError("too slow", nil)); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusFailed || got.CompletedAt == nil || got.Hostname != "feature-x" {
		t.Errorf("Unexpected finished run %+v", got)
	}
	if got.Error == nil || *got.Error == "" {
		t.Error("Expected error message to be stored")
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.CompleteRun(ctx, "missing", RunStatusSuccess, "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want RunStatus
	}{
		{nil, RunStatusSuccess},
		{engine.NewDeclinedError("no"), RunStatusDeclined},
		{errors.New("boom"), RunStatusFailed},
	}
	for _, tt := range tests {
		if got := RunStatusFor(tt.err); got != tt.want {
			t.Errorf("RunStatusFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestListRunsAndPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{ID: id, Command: "instance clean", Status: RunStatusSuccess, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("Expected newest runs first, got %v", runIDs(runs))
	}

	n, err := store.DeleteRunsBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("DeleteRunsBefore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned runs, got %d", n)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	history := NewHistory(store)
	ctx := context.Background()

	if err := history.Begin(ctx, &Run{ID: "run-1", Command: "deploy"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := history.AppendEvent(ctx, "run-1", "deployment.created", "deployment created", map[string]any{"deployment_id": "d-1"}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := history.AppendEvent(ctx, "run-1", "deployment.finished", "deployment finished", map[string]any{"status": "failed"}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := history.AppendEvent(ctx, "run-1", "clean.skipped", "cleanable tag is false", nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	runs, events, err := history.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 1 || len(events["run-1"]) != 3 {
		t.Fatalf("Expected 1 run with 3 events, got %d runs, %d events", len(runs), len(events["run-1"]))
	}
	got := events["run-1"]
	if got[0].Details == nil || *got[0].Details != `{"deployment_id":"d-1"}` {
		t.Errorf("Unexpected details %v", got[0].Details)
	}
	if got[1].Level != EventLevelError || got[2].Level != EventLevelWarning {
		t.Errorf("Unexpected levels %s, %s", got[1].Level, got[2].Level)
	}

	level := EventLevelError
	errorsOnly, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(errorsOnly) != 1 {
		t.Errorf("Expected 1 error event, got %d", len(errorsOnly))
	}
}

func TestAudit(t *testing.T) {
	store := setupTestStore(t)
	history := NewHistory(store)
	ctx := context.Background()

	if err := history.Audit(ctx, "instance.down", "alice", "i-1", map[string]any{"hostname": "feature-x"}); err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if err := history.Audit(ctx, "instance.up", "bob", "", nil); err != nil {
		t.Fatalf("Audit() error = %v", err)
	}

	action := "instance.down"
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "alice" || *entries[0].TargetID != "i-1" {
		t.Errorf("Unexpected audit entries %+v", entries)
	}
}

func TestLeases(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	lease, err := store.Acquire(ctx, "stack-1/layer-1", "run-a", time.Hour)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	_, err = store.Acquire(ctx, "stack-1/layer-1", "run-b", time.Hour)
	var e *engine.Error
	if !errors.As(err, &e) || e.Kind != engine.KindConfiguration || e.Code != engine.ErrCodeStackBusy {
		t.Fatalf("Expected stack busy error, got %v", err)
	}

	if _, err := store.Acquire(ctx, "stack-1/layer-2", "run-b", time.Hour); err != nil {
		t.Errorf("Expected other keys to be free, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.Acquire(ctx, "stack-1/layer-1", "run-b", time.Hour); err != nil {
		t.Errorf("Expected released lease to be free, got %v", err)
	}
}

func TestLeases_Expiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if _, err := store.Acquire(ctx, "stack-1", "run-a", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Acquire(ctx, "stack-1", "run-b", time.Minute); err != nil {
		t.Errorf("Expected expired lease to be taken over, got %v", err)
	}
}

func TestLeases_Renew(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	lease, err := store.Acquire(ctx, "stack-1", "run-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	now = now.Add(50 * time.Second)
	if err := lease.Renew(ctx, time.Minute); err != nil {
		t.Fatalf("Renew() error = %v", err)
	}

	// Past the original expiry, the renewed lease is still live.
	now = now.Add(30 * time.Second)
	if _, err := store.Acquire(ctx, "stack-1", "run-b", time.Minute); !engine.IsKind(err, engine.KindConfiguration) {
		t.Fatalf("Expected renewed lease to stay busy, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Acquire(ctx, "stack-1", "run-b", time.Minute); err != nil {
		t.Fatalf("Expected expired lease to be taken over, got %v", err)
	}
	err = lease.Renew(ctx, time.Minute)
	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeStackBusy {
		t.Fatalf("Renew() after takeover error = %v, want stack busy", err)
	}
}

func TestSandboxResources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"i-1", "i-2"} {
		res := &SandboxResource{Kind: "instance", ID: id, ParentID: "layer-1", Document: []byte(`{"id":"` + id + `"}`)}
		if err := store.PutSandboxResource(ctx, res); err != nil {
			t.Fatalf("PutSandboxResource() error = %v", err)
		}
	}
	if err := store.PutSandboxResource(ctx, &SandboxResource{Kind: "instance", ID: "i-1", ParentID: "layer-1", Document: []byte(`{"id":"i-1","status":"online"}`)}); err != nil {
		t.Fatalf("PutSandboxResource() error = %v", err)
	}

	list, err := store.ListSandboxResources(ctx, "instance", "layer-1")
	if err != nil {
		t.Fatalf("ListSandboxResources() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "i-1" || string(list[0].Document) != `{"id":"i-1","status":"online"}` {
		t.Errorf("Unexpected resources %+v", list)
	}

	if err := store.DeleteSandboxResource(ctx, "instance", "i-2"); err != nil {
		t.Fatalf("DeleteSandboxResource() error = %v", err)
	}
	if _, err := store.GetSandboxResource(ctx, "instance", "i-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteSandboxResource(ctx, "instance", "i-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestObjects(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.PutObject(ctx, "sandbox://logs/c-1", []byte("line 1\nline 2\n")); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	body, err := store.GetObject(ctx, "sandbox://logs/c-1")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(body) != "line 1\nline 2\n" {
		t.Errorf("Unexpected body %q", body)
	}
	if _, err := store.GetObject(ctx, "sandbox://logs/none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
