package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix                     = "FORGE"
	defaultMaxParallelRequests    = 4
	defaultIsolatedContextTimeout = 30 * time.Second
	defaultTracingTimeout         = 10 * time.Second
)

// Definition is the raw shape of the configuration file.
type Definition struct {
	Build   BuildDef   `mapstructure:"build"`
	Log     LogDef     `mapstructure:"log"`
	Tracing TracingDef `mapstructure:"tracing"`
}

// BuildDef is the raw build section.
type BuildDef struct {
	MaxParallelRequests    int      `mapstructure:"maxParallelRequests"`
	StrictItemTypes        bool     `mapstructure:"strictItemTypes"`
	DefaultTargets         []string `mapstructure:"defaultTargets"`
	IsolatedContextTimeout string   `mapstructure:"isolatedContextTimeout"`
}

// LogDef is the raw log section.
type LogDef struct {
	Debug  bool   `mapstructure:"debug"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TracingDef is the raw tracing section.
type TracingDef struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"serviceName"`
	Endpoint    string            `mapstructure:"endpoint"`
	Headers     map[string]string `mapstructure:"headers"`
	Insecure    bool              `mapstructure:"insecure"`
	Timeout     string            `mapstructure:"timeout"`
}

// ConfigLoader reads and merges configuration from a file, the environment
// and defaults.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration with a fresh viper instance.
func Load(options ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(viper.New(), options...).Load()
}

// Load reads configuration files, applies defaults and environment overrides,
// and returns a validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	l.setupViper()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := l.buildConfig(def)
	if used := l.v.ConfigFileUsed(); used != "" {
		abs, err := filepath.Abs(used)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config file path %q: %w", used, err)
		}
		cfg.ConfigFileUsed = abs
	}
	cfg.Warnings = l.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) setupViper() {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("forge")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "forge"))
		}
	}

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.v.SetDefault("build.maxParallelRequests", defaultMaxParallelRequests)
	l.v.SetDefault("build.strictItemTypes", false)
	l.v.SetDefault("build.isolatedContextTimeout", defaultIsolatedContextTimeout.String())
	l.v.SetDefault("log.debug", false)
	l.v.SetDefault("log.format", "text")
	l.v.SetDefault("tracing.enabled", false)
	l.v.SetDefault("tracing.serviceName", "forge")
	l.v.SetDefault("tracing.timeout", defaultTracingTimeout.String())

	bindings := map[string]string{
		"build.maxParallelRequests": "FORGE_MAX_PARALLEL_REQUESTS",
		"build.strictItemTypes":     "FORGE_STRICT_ITEM_TYPES",
		"build.defaultTargets":      "FORGE_DEFAULT_TARGETS",
		"log.debug":                 "FORGE_DEBUG",
		"log.format":                "FORGE_LOG_FORMAT",
		"log.file":                  "FORGE_LOG_FILE",
		"tracing.enabled":           "FORGE_TRACING_ENABLED",
		"tracing.endpoint":          "FORGE_TRACING_ENDPOINT",
		"tracing.insecure":          "FORGE_TRACING_INSECURE",
	}
	for key, env := range bindings {
		_ = l.v.BindEnv(key, env)
	}
}

func (l *ConfigLoader) buildConfig(def Definition) *Config {
	cfg := Default()

	if def.Build.MaxParallelRequests != 0 {
		cfg.Build.MaxParallelRequests = def.Build.MaxParallelRequests
	}
	cfg.Build.StrictItemTypes = def.Build.StrictItemTypes
	for _, t := range def.Build.DefaultTargets {
		if t = strings.TrimSpace(t); t != "" {
			cfg.Build.DefaultTargets = append(cfg.Build.DefaultTargets, t)
		}
	}
	if def.Build.IsolatedContextTimeout != "" {
		cfg.Build.IsolatedContextTimeout = l.parseDuration("build.isolatedContextTimeout", def.Build.IsolatedContextTimeout, defaultIsolatedContextTimeout)
	}

	cfg.Log.Debug = def.Log.Debug
	if def.Log.Format != "" {
		cfg.Log.Format = strings.ToLower(def.Log.Format)
	}
	cfg.Log.File = def.Log.File

	cfg.Tracing.Enabled = def.Tracing.Enabled
	if def.Tracing.ServiceName != "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
	cfg.Tracing.Endpoint = def.Tracing.Endpoint
	cfg.Tracing.Headers = def.Tracing.Headers
	cfg.Tracing.Insecure = def.Tracing.Insecure
	if def.Tracing.Timeout != "" {
		cfg.Tracing.Timeout = l.parseDuration("tracing.timeout", def.Tracing.Timeout, defaultTracingTimeout)
	}
	return cfg
}

// parseDuration parses a duration string, returning the default and adding a
// warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return def
	}
	return d
}
