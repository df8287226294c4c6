// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for storeguard.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Log controls the process-wide slog handler.
	Log LogConfig `yaml:"log"`

	// Tracing configures OpenTelemetry span export. Disabled when Endpoint is empty.
	Tracing TracingConfig `yaml:"tracing"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "guard.chat").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Empty means text.
	Format string `yaml:"format"`
}

// TracingConfig configures the OTLP/HTTP trace exporter.
type TracingConfig struct {
	// Endpoint is the collector host:port (e.g. "localhost:4318").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces kept, in [0, 1]. Zero means 1.
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}
