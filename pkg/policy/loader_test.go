package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.rego")

	regoContent := `# Test policy for validation
# spanning two lines

package test.policy

import rego.v1

deny contains "invalid" if input.hostname == "invalid"
`
	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policies, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Description != "Test policy for validation spanning two lines" {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled || policy.Severity != SeverityError {
		t.Errorf("unexpected defaults: enabled=%v severity=%s", policy.Enabled, policy.Severity)
	}
}

func TestLoadFromFile_Bundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	bundleFile := filepath.Join(t.TempDir(), "bundle.json")

	bundle := `{
  "name": "team",
  "version": "1.0.0",
  "policies": [
    {"name": "a", "rego": "package a\n", "enabled": true},
    {"name": "b", "rego": "package b\n", "severity": "warning", "enabled": true, "builtin": true}
  ]
}`
	if err := os.WriteFile(bundleFile, []byte(bundle), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policies, err := loader.loadFromFile(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("default severity = %s, want error", policies[0].Severity)
	}
	if policies[1].Severity != SeverityWarning {
		t.Errorf("severity = %s, want warning", policies[1].Severity)
	}
	if policies[1].Builtin {
		t.Error("loaded policies must never be marked built-in")
	}
}

func TestLoadFromFile_JSONEnabledDefault(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := []struct {
		name    string
		body    string
		enabled []bool
	}{
		{
			name:    "single without enabled",
			body:    `{"name": "single", "rego": "package single\n"}`,
			enabled: []bool{true},
		},
		{
			name:    "single disabled",
			body:    `{"name": "off", "rego": "package off\n", "enabled": false}`,
			enabled: []bool{false},
		},
		{
			name: "bundle mixed",
			body: `{"name": "team", "policies": [
  {"name": "a", "rego": "package a\n"},
  {"name": "b", "rego": "package b\n", "enabled": false}
]}`,
			enabled: []bool{true, false},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("policy-%d.json", i))
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}
			policies, err := loader.loadFromFile(context.Background(), path)
			if err != nil {
				t.Fatalf("loadFromFile() error = %v", err)
			}
			if len(policies) != len(tt.enabled) {
				t.Fatalf("got %d policies, want %d", len(policies), len(tt.enabled))
			}
			for j, want := range tt.enabled {
				if policies[j].Enabled != want {
					t.Errorf("policy %s Enabled = %v, want %v", policies[j].Name, policies[j].Enabled, want)
				}
			}
		})
	}
}

func TestLoadFromFile_JSONErrors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := map[string]string{
		"garbage.json":  "{not json",
		"nameless.json": `{"rego": "package x\n"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}
			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	files := map[string]string{
		filepath.Join(dir, "one.rego"):    "package one\n",
		filepath.Join(nested, "two.rego"): "package two\n",
		filepath.Join(dir, "README.md"):   "ignored",
		filepath.Join(dir, "bad.json"):    "{",
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromFile_Cache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "cached.rego")
	if err := os.WriteFile(path, []byte("package cached\n"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx := context.Background()
	if _, err := loader.loadFromFile(ctx, path); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := loader.loadFromFile(ctx, path); err != nil {
		t.Errorf("cached load error = %v", err)
	}
}
