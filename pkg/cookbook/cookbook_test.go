package cookbook

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/artifacts"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Mock runner for testing. It writes a fake vendored cookbook.
type mockRunner struct {
	calls []string
	err   error
}

func (m *mockRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	if m.err != nil {
		return m.err
	}
	recipes := filepath.Join(dir, VendorDir, "shop", "recipes")
	if err := os.MkdirAll(recipes, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(recipes, "default.rb"), []byte("package 'nginx'\n"), 0o644)
}

// Mock control plane for testing. Only UpdateStack is implemented.
type mockControlPlane struct {
	engine.ControlPlane
	updates []engine.StackUpdate
}

func (m *mockControlPlane) UpdateStack(ctx context.Context, stackID string, update engine.StackUpdate) error {
	m.updates = append(m.updates, update)
	return nil
}

// Mock prompter for testing
type mockPrompter struct {
	answer    bool
	questions []string
}

func (m *mockPrompter) Select(ctx context.Context, title string, options []string) (string, error) {
	return "", nil
}

func (m *mockPrompter) Input(ctx context.Context, title string) (string, error) {
	return "", nil
}

func (m *mockPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	m.questions = append(m.questions, question)
	return m.answer, nil
}

// Mock reporter for testing
type mockReporter struct {
	lines []string
}

func (m *mockReporter) Progress(marker string)              {}
func (m *mockReporter) Infof(format string, args ...any)    { m.add(format, args...) }
func (m *mockReporter) Warnf(format string, args ...any)    { m.add(format, args...) }
func (m *mockReporter) Successf(format string, args ...any) { m.add(format, args...) }
func (m *mockReporter) Errorf(format string, args ...any)   { m.add(format, args...) }
func (m *mockReporter) Block(title, body string)            { m.lines = append(m.lines, title, body) }

func (m *mockReporter) add(format string, args ...any) {
	m.lines = append(m.lines, fmt.Sprintf(format, args...))
}

type fixture struct {
	manager  *Manager
	runner   *mockRunner
	cp       *mockControlPlane
	prompter *mockPrompter
	reporter *mockReporter
	store    string
}

func newFixture(t *testing.T, answer bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := t.TempDir()

	cfg := &engine.ResolvedConfig{
		StackID: "stack-1",
		Cookbook: engine.CookbookConfig{
			Dir:     dir,
			Store:   "file://" + store,
			Path:    "cookbooks/shop",
			Name:    "shop",
			Version: "1.2.0",
			JSON:    "custom.json",
		},
	}

	f := &fixture{
		runner:   &mockRunner{},
		cp:       &mockControlPlane{},
		prompter: &mockPrompter{answer: answer},
		reporter: &mockReporter{},
		store:    store,
	}
	m, err := NewManager(cfg, f.cp, artifacts.NewFileStore(), f.runner, f.prompter, f.reporter, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.manager = m
	return f
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	full := engine.CookbookConfig{Dir: dir, Store: "file:///tmp", Path: "p", Name: "n", Version: "1"}

	tests := []struct {
		name    string
		mutate  func(*engine.CookbookConfig)
		wantMsg string
	}{
		{name: "complete", mutate: func(*engine.CookbookConfig) {}},
		{name: "no dir", mutate: func(c *engine.CookbookConfig) { c.Dir = "" }, wantMsg: "Must specify a 'cookbook_dir' in the config"},
		{name: "no store", mutate: func(c *engine.CookbookConfig) { c.Store = "" }, wantMsg: "Must specify a 'cookbook_store' in the config"},
		{name: "no version", mutate: func(c *engine.CookbookConfig) { c.Version = "" }, wantMsg: "Must specify a 'cookbook_version' in the config"},
		{name: "missing dir", mutate: func(c *engine.CookbookConfig) { c.Dir = filepath.Join(dir, "nope") }, wantMsg: "Cannot find/do not have access to cookbook directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := full
			tt.mutate(&c)
			err := Validate(c)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !engine.IsKind(err, engine.KindConfiguration) || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestManager_Release(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	stale := filepath.Join(f.manager.Config.Dir, "shop-1.0.0.zip")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := f.manager.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if len(f.runner.calls) != 1 || f.runner.calls[0] != "berks vendor vendor -e opsworks" {
		t.Errorf("runner calls = %v", f.runner.calls)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale artifact should have been removed")
	}

	uploaded := filepath.Join(f.store, "cookbooks", "shop", "shop-1.2.0.zip")
	zr, err := zip.OpenReader(uploaded)
	if err != nil {
		t.Fatalf("uploaded artifact unreadable: %v", err)
	}
	defer zr.Close()
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	sort.Strings(names)
	if len(names) != 1 || names[0] != "vendor/shop/recipes/default.rb" {
		t.Errorf("zip entries = %v", names)
	}

	if len(f.cp.updates) != 1 {
		t.Fatalf("UpdateStack called %d times, want 1", len(f.cp.updates))
	}
	update := f.cp.updates[0]
	if update.UseCustomCookbooks == nil || !*update.UseCustomCookbooks {
		t.Error("UseCustomCookbooks should be true")
	}
	wantURL := "file://" + filepath.ToSlash(f.store) + "/cookbooks/shop/shop-1.2.0.zip"
	if update.CustomCookbooksSource == nil || update.CustomCookbooksSource.URL != wantURL || update.CustomCookbooksSource.Type != "file" {
		t.Errorf("CustomCookbooksSource = %+v, want url %s", update.CustomCookbooksSource, wantURL)
	}
	if !strings.Contains(strings.Join(f.reporter.lines, "\n"), "Released!") {
		t.Errorf("reporter = %v", f.reporter.lines)
	}
}

func TestManager_VendorFailure(t *testing.T) {
	f := newFixture(t, true)
	f.runner.err = fmt.Errorf("berks: command not found")

	err := f.manager.Release(context.Background())
	if !engine.IsKind(err, engine.KindOperationFailure) {
		t.Fatalf("Release() error = %v, want operation failure", err)
	}
	if len(f.cp.updates) != 0 {
		t.Error("stack must not be updated after a failed vendor")
	}
}

func TestManager_PackageWithoutVendor(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.manager.Package(context.Background())
	if !engine.IsKind(err, engine.KindConfiguration) {
		t.Errorf("Package() error = %v, want configuration error", err)
	}
}

func TestManager_UpdateCustomJSON(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		answer   bool
		wantKind engine.ErrorKind
		updates  int
	}{
		{name: "confirmed", body: `{"shop":{"port":80}}`, answer: true, updates: 1},
		{name: "declined", body: `{"shop":{}}`, answer: false, wantKind: engine.KindDeclined},
		{name: "invalid json", body: `{"shop":`, answer: true, wantKind: engine.KindPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.answer)
			path := filepath.Join(f.manager.Config.Dir, "custom.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			err := f.manager.UpdateCustomJSON(context.Background())
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("UpdateCustomJSON() error = %v", err)
				}
			} else if !engine.IsKind(err, tt.wantKind) {
				t.Fatalf("UpdateCustomJSON() error = %v, want %s", err, tt.wantKind)
			}

			if len(f.cp.updates) != tt.updates {
				t.Fatalf("UpdateStack called %d times, want %d", len(f.cp.updates), tt.updates)
			}
			if tt.updates == 1 && *f.cp.updates[0].CustomJSON != tt.body {
				t.Errorf("CustomJSON = %q", *f.cp.updates[0].CustomJSON)
			}
		})
	}
}

func TestManager_DeclinedExitCode(t *testing.T) {
	f := newFixture(t, false)
	err := f.manager.UpdateStackCookbooks(context.Background())
	if got := engine.ExitCode(err); got != 2 {
		t.Errorf("ExitCode() = %d, want 2", got)
	}
	if len(f.prompter.questions) != 1 || !strings.Contains(f.prompter.questions[0], "stack-1") {
		t.Errorf("questions = %v", f.prompter.questions)
	}
}

func TestManager_Cleanup(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	dir := f.manager.Config.Dir

	if err := f.runner.Run(ctx, dir, "berks"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	keep := filepath.Join(dir, "other-1.0.zip")
	for _, name := range []string{"shop-1.2.0.zip", "shop-0.9.zip", "other-1.0.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	if err := f.manager.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(keep) {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("remaining entries = %v, want only %s", names, filepath.Base(keep))
	}
}
