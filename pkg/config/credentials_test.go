package config

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func TestProfile_SaveAndLoad(t *testing.T) {
	keyring.MockInit()

	want := &Profile{Name: "ops", AccessKeyID: "AKIA123", SecretAccessKey: "secret", Region: "eu-west-1"}
	if err := SaveProfile(want); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}

	got, err := LoadProfile("ops")
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if *got != *want {
		t.Errorf("LoadProfile() = %+v, want %+v", got, want)
	}

	if err := DeleteProfile("ops"); err != nil {
		t.Fatalf("DeleteProfile() error = %v", err)
	}
	if _, err := LoadProfile("ops"); !engine.IsKind(err, engine.KindCredentials) {
		t.Errorf("LoadProfile() after delete error = %v, want credentials error", err)
	}
}

func TestLoadProfile_Errors(t *testing.T) {
	keyring.MockInit()

	if p, err := LoadProfile(""); p != nil || err != nil {
		t.Errorf("LoadProfile(\"\") = %v, %v; want nil, nil", p, err)
	}

	if err := keyring.Set(ProfileService, "garbage", "not json"); err != nil {
		t.Fatalf("keyring.Set() error = %v", err)
	}
	if _, err := LoadProfile("garbage"); !engine.IsKind(err, engine.KindCredentials) {
		t.Errorf("LoadProfile(garbage) error = %v, want credentials error", err)
	}

	if err := keyring.Set(ProfileService, "partial", `{"access_key_id":"x"}`); err != nil {
		t.Fatalf("keyring.Set() error = %v", err)
	}
	if _, err := LoadProfile("partial"); !engine.IsKind(err, engine.KindCredentials) {
		t.Errorf("LoadProfile(partial) error = %v, want credentials error", err)
	}
}

func TestCustomJSON(t *testing.T) {
	env := map[string]string{EnvCustomJSON: `{"a":1}`}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	if got := CustomJSON(`{"b":2}`, lookup); got != `{"b":2}` {
		t.Errorf("CustomJSON() = %q, flag should win", got)
	}
	if got := CustomJSON("", lookup); got != `{"a":1}` {
		t.Errorf("CustomJSON() = %q, want environment value", got)
	}
	if got := CustomJSON("", func(string) (string, bool) { return "", false }); got != "" {
		t.Errorf("CustomJSON() = %q, want empty", got)
	}
}

func TestGitRevision(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v error = %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("checkout", "-q", "-b", "feature/login")
	run("commit", "-q", "--allow-empty", "-m", "init")

	rev, err := (&GitRevision{Dir: dir}).CurrentRevision(context.Background())
	if err != nil {
		t.Fatalf("CurrentRevision() error = %v", err)
	}
	if rev != "feature/login" {
		t.Errorf("CurrentRevision() = %q, want feature/login", rev)
	}

	if _, err := (&GitRevision{Dir: t.TempDir()}).CurrentRevision(context.Background()); err == nil {
		t.Error("CurrentRevision() outside a repository expected error")
	}
}
