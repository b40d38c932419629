package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for Rosie.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `json:"service_version,omitempty" yaml:"service_version,omitempty"`

	// Environment specifies the deployment environment (dev, staging, prod).
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Logging contains logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Events contains event publishing configuration.
	Events EventsConfig `json:"events" yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format specifies the log format (console, json).
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `json:"enable_caller,omitempty" yaml:"enable_caller,omitempty"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`

	// ExportTimeoutSeconds bounds a single export call.
	ExportTimeoutSeconds int `json:"export_timeout_seconds,omitempty" yaml:"export_timeout_seconds,omitempty"`

	// Headers are additional headers for OTLP exporter.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BufferSize is the size of the event buffer used in async mode.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool `json:"enable_async,omitempty" yaml:"enable_async,omitempty"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "rosie",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:              false,
			Exporter:             "stdout",
			SamplingRate:         1.0,
			ExportTimeoutSeconds: 30,
			Insecure:             true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Path:          "/metrics",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

// withDefaults returns a copy of c where every empty field takes its
// default value.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = def.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = def.ServiceVersion
	}
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = def.Tracing.Exporter
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = def.Tracing.SamplingRate
	}
	if c.Tracing.ExportTimeoutSeconds == 0 {
		c.Tracing.ExportTimeoutSeconds = def.Tracing.ExportTimeoutSeconds
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = def.Metrics.ListenAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = def.Events.BufferSize
	}
	return c
}

func (c TracingConfig) exportTimeout() time.Duration {
	return time.Duration(c.ExportTimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid. Empty fields are allowed
// and take their defaults.
func (c *Config) Validate() error {
	cfg := c.withDefaults()

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "console" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", cfg.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if cfg.Tracing.Enabled && !validExporters[cfg.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "otlp" && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", cfg.Tracing.SamplingRate)
	}

	if cfg.Events.BufferSize < 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", cfg.Events.BufferSize)
	}

	return nil
}
