package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the engine configuration.
type Config struct {
	// Build contains the scheduling settings.
	Build Build
	// Log contains the logging settings.
	Log Log
	// Tracing contains the OpenTelemetry settings.
	Tracing Tracing
	// ConfigFileUsed is the path of the file the configuration was read from.
	ConfigFileUsed string
	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

// Build holds the scheduling settings.
type Build struct {
	// MaxParallelRequests bounds the number of build requests processed at
	// the same time.
	MaxParallelRequests int
	// StrictItemTypes fails parameter binding when an expression references
	// an item type that was never declared.
	StrictItemTypes bool
	// DefaultTargets run when a request names no target and the project
	// declares no default.
	DefaultTargets []string
	// IsolatedContextTimeout bounds how long a task may wait for its
	// isolated execution context to start. Zero disables the bound.
	IsolatedContextTimeout time.Duration
}

// Log holds the logging settings.
type Log struct {
	Debug  bool
	Format string
	File   string
}

// Tracing holds the OpenTelemetry settings.
type Tracing struct {
	Enabled     bool
	ServiceName string
	// Endpoint is the OTLP collector address. An endpoint ending in
	// /v1/traces selects the HTTP exporter, anything else gRPC.
	Endpoint string
	Headers  map[string]string
	Insecure bool
	Timeout  time.Duration
}

var (
	ErrInvalidMaxParallelRequests = errors.New("build.maxParallelRequests must be greater than zero")
	ErrInvalidLogFormat           = errors.New("log.format must be text or json")
	ErrMissingTracingEndpoint     = errors.New("tracing.endpoint is required when tracing is enabled")
)

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Build.MaxParallelRequests <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxParallelRequests, c.Build.MaxParallelRequests)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return ErrMissingTracingEndpoint
	}
	return nil
}

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		Build: Build{
			MaxParallelRequests:    defaultMaxParallelRequests,
			IsolatedContextTimeout: defaultIsolatedContextTimeout,
		},
		Log: Log{Format: "text"},
		Tracing: Tracing{
			ServiceName: "forge",
			Timeout:     defaultTracingTimeout,
		},
	}
}
