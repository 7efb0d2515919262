package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for a stackpilot invocation.
type Config struct {
	// ServiceName identifies the CLI in traces and pushed metrics.
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion is the build version.
	ServiceVersion string `mapstructure:"service_version"`

	// Environment is the selected configuration environment.
	Environment string `mapstructure:"environment"`

	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Events  EventsConfig  `mapstructure:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, disabled).
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`

	// Output is stderr, stdout or a file path.
	Output string `mapstructure:"output"`

	EnableCaller bool   `mapstructure:"enable_caller"`
	NoColor      bool   `mapstructure:"no_color"`
	TimeFormat   string `mapstructure:"time_format"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string `mapstructure:"endpoint"`

	SamplingRate  float64           `mapstructure:"sampling_rate"`
	ExportTimeout time.Duration     `mapstructure:"export_timeout"`
	Headers       map[string]string `mapstructure:"headers"`
	Insecure      bool              `mapstructure:"insecure"`
}

// MetricsConfig configures Prometheus metrics. A CLI run is too short to be
// scraped, so metrics are pushed to a Pushgateway when the run ends.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// PushGateway is the Pushgateway base URL. Metrics are only collected
	// in-process when it is empty.
	PushGateway string `mapstructure:"push_gateway"`

	// Job is the Pushgateway job label.
	Job string `mapstructure:"job"`

	Namespace string `mapstructure:"namespace"`

	// DefaultHistogramBuckets are the duration buckets in seconds.
	DefaultHistogramBuckets []float64 `mapstructure:"histogram_buckets"`
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// BufferSize is the async delivery buffer. Zero delivers synchronously.
	BufferSize int `mapstructure:"buffer_size"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stackpilot",
		ServiceVersion: "dev",
		Environment:    "default",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
			Headers:       make(map[string]string),
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Job:       "stackpilot",
			Namespace: "stackpilot",
			DefaultHistogramBuckets: []float64{
				1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400,
			},
		},
		Events: EventsConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "disabled": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.PushGateway != "" && c.Metrics.Job == "" {
		return fmt.Errorf("metrics job is required when a push gateway is set")
	}

	if c.Events.BufferSize < 0 {
		return fmt.Errorf("event buffer size must not be negative, got: %d", c.Events.BufferSize)
	}

	return nil
}
