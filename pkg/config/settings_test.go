package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := LoadSettings(NewViper(""))
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.Gateway != GatewaySandbox {
		t.Errorf("Gateway = %q, want %q", s.Gateway, GatewaySandbox)
	}
	if s.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", s.LogLevel)
	}
	if filepath.Base(s.HistoryDB) != "history.db" {
		t.Errorf("HistoryDB = %q", s.HistoryDB)
	}
	if s.Sandbox.DeployPolls <= 0 {
		t.Errorf("Sandbox.DeployPolls = %d, want positive", s.Sandbox.DeployPolls)
	}
	if s.Telemetry.ServiceName == "" {
		t.Error("Telemetry.ServiceName should have a default")
	}
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	body := `
log_level: debug
history_db: /tmp/stackpilot-history.db
notifier:
  channel: "#deploys"
  webhooks:
    release: https://hooks.example.com/release
sandbox:
  deploy_polls: 4
  fail_commands: [setup]
artifacts:
  sftp_enabled: true
  sftp:
    host: files.example.com
    user: deploy
    connection_timeout: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("STACKPILOT_LOG_LEVEL", "warn")

	s, err := LoadSettings(NewViper(path))
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn from environment", s.LogLevel)
	}
	if s.HistoryDB != "/tmp/stackpilot-history.db" {
		t.Errorf("HistoryDB = %q", s.HistoryDB)
	}
	if s.Notifier.Channel != "#deploys" {
		t.Errorf("Notifier.Channel = %q", s.Notifier.Channel)
	}
	if s.Notifier.Webhooks["release"] != "https://hooks.example.com/release" {
		t.Errorf("Notifier.Webhooks = %v", s.Notifier.Webhooks)
	}
	if s.Sandbox.DeployPolls != 4 || len(s.Sandbox.FailCommands) != 1 {
		t.Errorf("Sandbox = %+v", s.Sandbox)
	}
	if !s.Artifacts.SFTPEnabled || s.Artifacts.SFTP.Host != "files.example.com" {
		t.Errorf("Artifacts = %+v", s.Artifacts)
	}
	if s.Artifacts.SFTP.ConnectionTimeout != 5*time.Second {
		t.Errorf("SFTP.ConnectionTimeout = %v", s.Artifacts.SFTP.ConnectionTimeout)
	}
	if s.Artifacts.SFTP.Port != 22 {
		t.Errorf("SFTP.Port = %d, want default 22", s.Artifacts.SFTP.Port)
	}
}

func TestLoadSettings_MissingExplicitFile(t *testing.T) {
	_, err := LoadSettings(NewViper(filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Fatal("LoadSettings() expected error for missing explicit file")
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "unknown gateway", mutate: func(s *Settings) { s.Gateway = "aws" }, wantErr: true},
		{name: "no history db", mutate: func(s *Settings) { s.HistoryDB = "" }, wantErr: true},
		{name: "zero polls", mutate: func(s *Settings) { s.Sandbox.DeployPolls = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := SettingsDir(); got != "/xdg/stackpilot" {
		t.Errorf("SettingsDir() = %q", got)
	}
	if got := SettingsFile(); got != "/xdg/stackpilot/settings.yaml" {
		t.Errorf("SettingsFile() = %q", got)
	}
}
