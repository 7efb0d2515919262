package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Mock clock for testing
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return ctx.Err()
}

const testProject = `
_defaults: &defaults
  region: us-east-1
  app_name: shop
  stack_name: shop-stack
  layer_name: rails-app

staging:
  <<: *defaults
  deploy_type: staging

production:
  <<: *defaults
  deploy_type: production
`

type cliFixture struct {
	settings string
	project  string
}

func setupCLI(t *testing.T) *cliFixture {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(config.EnvEnvironment, "")
	t.Setenv(config.EnvCustomJSON, "")

	settings := filepath.Join(dir, "settings.yaml")
	body := "history_db: " + filepath.Join(dir, "history.db") + "\n" +
		"telemetry:\n  logging:\n    level: error\n"
	if err := os.WriteFile(settings, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
	project := filepath.Join(dir, "stackpilot.yml")
	if err := os.WriteFile(project, []byte(testProject), 0o644); err != nil {
		t.Fatalf("failed to write project file: %v", err)
	}

	prev := clock
	clock = &mockClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	t.Cleanup(func() { clock = prev })

	return &cliFixture{settings: settings, project: project}
}

// run executes the CLI with the fixture's settings and project file.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--settings", f.settings, "--config", f.project))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_SeedAndDescribe(t *testing.T) {
	f := setupCLI(t)

	if _, err := f.run(t, "sandbox", "seed", "-e", "staging"); err != nil {
		t.Fatalf("sandbox seed error = %v", err)
	}
	// Seeding twice keeps the existing stack.
	if _, err := f.run(t, "sandbox", "seed", "-e", "staging"); err != nil {
		t.Fatalf("second sandbox seed error = %v", err)
	}

	out, err := f.run(t, "stack", "describe", "-e", "staging")
	if err != nil {
		t.Fatalf("stack describe error = %v", err)
	}
	for _, want := range []string{`"name": "shop-stack"`, `"shortname": "rails-app"`, `"layers"`} {
		if !strings.Contains(out, want) {
			t.Errorf("stack describe output missing %s: %s", want, out)
		}
	}
}

func TestCLI_InstanceLifecycle(t *testing.T) {
	f := setupCLI(t)

	if _, err := f.run(t, "sandbox", "seed", "-e", "staging"); err != nil {
		t.Fatalf("sandbox seed error = %v", err)
	}
	if _, err := f.run(t, "instance", "up", "-e", "staging", "--branch", "feature-x"); err != nil {
		t.Fatalf("instance up error = %v", err)
	}
	if _, err := f.run(t, "deploy-app", "-e", "staging", "--branch", "feature-x"); err != nil {
		t.Fatalf("deploy-app error = %v", err)
	}
	if _, err := f.run(t, "instance", "down", "-e", "staging", "--branch", "feature-x"); err != nil {
		t.Fatalf("instance down error = %v", err)
	}

	out, err := f.run(t, "history", "list", "--events")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	for _, want := range []string{"instance_up", "deploy_app", "instance_down", "feature-x", "success"} {
		if !strings.Contains(out, want) {
			t.Errorf("history list output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_CleanRefusedOnProduction(t *testing.T) {
	f := setupCLI(t)

	if _, err := f.run(t, "sandbox", "seed", "-e", "production"); err != nil {
		t.Fatalf("sandbox seed error = %v", err)
	}
	_, err := f.run(t, "instance", "clean", "-e", "production")
	if !engine.IsKind(err, engine.KindConfiguration) {
		t.Fatalf("instance clean error = %v, want configuration error", err)
	}
	if code := engine.ExitCode(err); code != engine.ExitFailure {
		t.Errorf("ExitCode() = %d, want %d", code, engine.ExitFailure)
	}

	out, err := f.run(t, "history", "list")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	if !strings.Contains(out, "instance_clean") || !strings.Contains(out, "Cannot clean instances") {
		t.Errorf("failed run not recorded:\n%s", out)
	}
}

func TestCLI_InvalidEnvironmentWithoutTerminal(t *testing.T) {
	f := setupCLI(t)

	_, err := f.run(t, "stack", "describe", "-e", "qa")
	if !engine.IsKind(err, engine.KindConfiguration) {
		t.Fatalf("stack describe error = %v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), "Invalid config environment 'qa'") {
		t.Errorf("error = %q, want invalid environment message", err.Error())
	}
}

func TestCLI_UnknownProfile(t *testing.T) {
	f := setupCLI(t)

	_, err := f.run(t, "stack", "describe", "-e", "staging", "--profile", "missing")
	if !engine.IsKind(err, engine.KindCredentials) {
		t.Fatalf("error = %v, want credentials error", err)
	}
}

func TestCLI_ProfileSaveAndUse(t *testing.T) {
	f := setupCLI(t)

	if _, err := f.run(t, "profile", "save", "work", "--access-key-id", "AKID", "--secret-access-key", "secret"); err != nil {
		t.Fatalf("profile save error = %v", err)
	}
	if _, err := f.run(t, "sandbox", "seed", "-e", "staging", "--profile", "work"); err != nil {
		t.Fatalf("sandbox seed with profile error = %v", err)
	}
	if _, err := f.run(t, "profile", "delete", "work"); err != nil {
		t.Fatalf("profile delete error = %v", err)
	}
	if _, err := f.run(t, "sandbox", "seed", "-e", "staging", "--profile", "work"); !engine.IsKind(err, engine.KindCredentials) {
		t.Fatalf("seed with deleted profile error = %v, want credentials error", err)
	}
}

func TestCLI_PolicyList(t *testing.T) {
	f := setupCLI(t)

	out, err := f.run(t, "policy", "list", "-e", "staging", "--skip-guard", "production-clean")
	if err != nil {
		t.Fatalf("policy list error = %v", err)
	}
	for _, want := range []string{"hostname-dns-label", "protected-hostnames", "builtin"} {
		if !strings.Contains(out, want) {
			t.Errorf("policy list output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "false") {
		t.Errorf("skipped guard not shown as disabled:\n%s", out)
	}

	if _, err := f.run(t, "policy", "list", "-e", "staging", "--skip-guard", "nope"); !engine.IsKind(err, engine.KindConfiguration) {
		t.Fatalf("unknown --skip-guard error = %v, want configuration error", err)
	}
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yml")
	seed := `
stack_name: seeded
layers:
  - name: Workers
    shortname: workers
instances:
  - hostname: old-branch
    layer: workers
    status: online
    age: 48h
    tags:
      cleanable: "true"
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	spec, err := loadSeedFile(context.Background(), path)
	if err != nil {
		t.Fatalf("loadSeedFile() error = %v", err)
	}
	if spec.StackName != "seeded" || len(spec.Instances) != 1 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if spec.Instances[0].Age != 48*time.Hour {
		t.Errorf("Age = %v, want 48h", spec.Instances[0].Age)
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("layers: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}
	if _, err := loadSeedFile(context.Background(), bad); !engine.IsKind(err, engine.KindConfiguration) {
		t.Fatalf("loadSeedFile() error = %v, want configuration error", err)
	}
}
