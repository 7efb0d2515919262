package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/stackpilot/stackpilot/pkg/artifacts"
	"github.com/stackpilot/stackpilot/pkg/controlplane/sandbox"
	"github.com/stackpilot/stackpilot/pkg/notify"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by stackpilot.
const EnvPrefix = "STACKPILOT"

// Environment variables read outside of the settings file.
const (
	EnvEnvironment = EnvPrefix + "_ENV"
	EnvCustomJSON  = EnvPrefix + "_CUSTOM_JSON"
)

// Gateway kinds.
const (
	GatewaySandbox = "sandbox"
)

// Settings are the per-user settings of the CLI.
type Settings struct {
	// LogLevel is the structured log level.
	LogLevel string `mapstructure:"log_level"`

	// HistoryDB is the SQLite database holding run history and leases.
	HistoryDB string `mapstructure:"history_db"`

	// Gateway selects the control plane implementation.
	Gateway string `mapstructure:"gateway"`

	Notifier  notify.Config    `mapstructure:"notifier"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Sandbox   sandbox.Config   `mapstructure:"sandbox"`
	Artifacts ArtifactSettings `mapstructure:"artifacts"`
}

// ArtifactSettings configure the artifact stores.
type ArtifactSettings struct {
	// SFTPEnabled registers the sftp:// store.
	SFTPEnabled bool                 `mapstructure:"sftp_enabled"`
	SFTP        artifacts.SFTPConfig `mapstructure:"sftp"`
}

// SettingsDir returns the directory of the user settings file.
func SettingsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stackpilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stackpilot"
	}
	return filepath.Join(home, ".config", "stackpilot")
}

// SettingsFile returns the default settings file path.
func SettingsFile() string {
	return filepath.Join(SettingsDir(), "settings.yaml")
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel:  "info",
		HistoryDB: filepath.Join(SettingsDir(), "history.db"),
		Gateway:   GatewaySandbox,
		Notifier:  notify.DefaultConfig(),
		Telemetry: *telemetry.DefaultConfig(),
		Sandbox:   sandbox.Config{DeployPolls: sandbox.DefaultDeployPolls},
		Artifacts: ArtifactSettings{SFTP: artifacts.DefaultSFTPConfig()},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("history_db", d.HistoryDB)
	v.SetDefault("gateway", d.Gateway)

	v.SetDefault("notifier.webhooks", d.Notifier.Webhooks)
	v.SetDefault("notifier.channel", d.Notifier.Channel)
	v.SetDefault("notifier.username", d.Notifier.Username)
	v.SetDefault("notifier.timeout", d.Notifier.Timeout)
	v.SetDefault("notifier.keyring_service", d.Notifier.KeyringService)

	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", d.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.logging.level", d.Telemetry.Logging.Level)
	v.SetDefault("telemetry.logging.format", d.Telemetry.Logging.Format)
	v.SetDefault("telemetry.logging.output", d.Telemetry.Logging.Output)
	v.SetDefault("telemetry.logging.time_format", d.Telemetry.Logging.TimeFormat)
	v.SetDefault("telemetry.tracing.enabled", d.Telemetry.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", d.Telemetry.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", d.Telemetry.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", d.Telemetry.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.export_timeout", d.Telemetry.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.insecure", d.Telemetry.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", d.Telemetry.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.push_gateway", d.Telemetry.Metrics.PushGateway)
	v.SetDefault("telemetry.metrics.job", d.Telemetry.Metrics.Job)
	v.SetDefault("telemetry.metrics.namespace", d.Telemetry.Metrics.Namespace)
	v.SetDefault("telemetry.metrics.histogram_buckets", d.Telemetry.Metrics.DefaultHistogramBuckets)
	v.SetDefault("telemetry.events.enabled", d.Telemetry.Events.Enabled)
	v.SetDefault("telemetry.events.buffer_size", d.Telemetry.Events.BufferSize)

	v.SetDefault("sandbox.deploy_polls", d.Sandbox.DeployPolls)
	v.SetDefault("sandbox.fail_commands", d.Sandbox.FailCommands)

	v.SetDefault("artifacts.sftp_enabled", d.Artifacts.SFTPEnabled)
	v.SetDefault("artifacts.sftp.host", d.Artifacts.SFTP.Host)
	v.SetDefault("artifacts.sftp.port", d.Artifacts.SFTP.Port)
	v.SetDefault("artifacts.sftp.user", d.Artifacts.SFTP.User)
	v.SetDefault("artifacts.sftp.auth_method", string(d.Artifacts.SFTP.AuthMethod))
	v.SetDefault("artifacts.sftp.private_key_path", d.Artifacts.SFTP.PrivateKeyPath)
	v.SetDefault("artifacts.sftp.known_hosts_path", d.Artifacts.SFTP.KnownHostsPath)
	v.SetDefault("artifacts.sftp.strict_host_key_checking", d.Artifacts.SFTP.StrictHostKeyChecking)
	v.SetDefault("artifacts.sftp.connection_timeout", d.Artifacts.SFTP.ConnectionTimeout)
	v.SetDefault("artifacts.sftp.proxy_host", d.Artifacts.SFTP.ProxyHost)
	v.SetDefault("artifacts.sftp.proxy_port", d.Artifacts.SFTP.ProxyPort)
	v.SetDefault("artifacts.sftp.proxy_user", d.Artifacts.SFTP.ProxyUser)
}

// NewViper returns a viper instance reading path (or the default settings
// file when path is empty) and STACKPILOT_* environment variables.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(SettingsDir())
	}
	return v
}

// LoadSettings reads the settings through v. A missing default settings file
// is not an error; a missing explicit one is.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.HistoryDB == "" {
		return fmt.Errorf("history_db is required")
	}
	if s.Gateway != GatewaySandbox {
		return fmt.Errorf("unsupported gateway: %s", s.Gateway)
	}
	if s.Sandbox.DeployPolls <= 0 {
		return fmt.Errorf("sandbox.deploy_polls must be positive, got %d", s.Sandbox.DeployPolls)
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}
