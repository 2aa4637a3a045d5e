// Package config handles TOML configuration for rdswitch.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/rdswitch/internal/transition"
)

// Config is the root configuration structure.
type Config struct {
	AWS        AWSConfig        `toml:"aws"`
	Transition TransitionConfig `toml:"transition"`
	Audit      AuditConfig      `toml:"audit"`
	Metrics    MetricsConfig    `toml:"metrics"`
	OTEL       OTELConfig       `toml:"otel"`
	Log        LogConfig        `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// TransitionConfig holds transitioner settings.
type TransitionConfig struct {
	ModeStr        string          `toml:"mode"`
	Mode           transition.Mode `toml:"-"`
	CallTimeoutStr string          `toml:"call_timeout"`
	CallTimeout    time.Duration   `toml:"-"`
}

// AuditConfig holds run history settings.
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// MetricsConfig holds Prometheus textfile settings.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string            `toml:"endpoint"`
	Insecure    bool              `toml:"insecure"`
	ServiceName string            `toml:"service_name"`
	Traces      TracesConfig      `toml:"traces"`
	Metrics     OTELMetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// OTELMetricsConfig holds OTLP metrics settings.
type OTELMetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := resolve(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := resolve(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithEnv loads path (or defaults when path is empty) and applies
// environment overrides on top. This is how the Lambda runtime is configured.
func LoadWithEnv(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = Default()
	}
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, os.LookupEnv)

	if err := resolve(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Transition.ModeStr == "" {
		cfg.Transition.ModeStr = string(transition.DefaultMode)
	}
	if cfg.Transition.CallTimeoutStr == "" {
		cfg.Transition.CallTimeoutStr = "30s"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "rdswitch.db"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "rdswitch"
	}
	// An unset rate would sample nothing
	if cfg.OTEL.Traces.SampleRate == 0 {
		cfg.OTEL.Traces.SampleRate = 1.0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("AWS_REGION", &cfg.AWS.Region)
	set("AWS_PROFILE", &cfg.AWS.Profile)
	set("RDSWITCH_MODE", &cfg.Transition.ModeStr)
	set("RDSWITCH_CALL_TIMEOUT", &cfg.Transition.CallTimeoutStr)
	set("RDSWITCH_AUDIT_PATH", &cfg.Audit.Path)
	set("RDSWITCH_METRICS_TEXTFILE", &cfg.Metrics.Textfile)
	set("RDSWITCH_LOG_LEVEL", &cfg.Log.Level)
	set("RDSWITCH_LOG_FORMAT", &cfg.Log.Format)
	set("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTEL.Endpoint)
	set("OTEL_SERVICE_NAME", &cfg.OTEL.ServiceName)

	if v, ok := lookup("RDSWITCH_AUDIT_ENABLED"); ok {
		cfg.Audit.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}

// resolve parses the string fields into their typed counterparts.
func resolve(cfg *Config) error {
	mode, err := transition.ParseMode(cfg.Transition.ModeStr)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	cfg.Transition.Mode = mode

	d, err := time.ParseDuration(cfg.Transition.CallTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse call_timeout %q: %w", cfg.Transition.CallTimeoutStr, err)
	}
	cfg.Transition.CallTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Transition.CallTimeout < 0 {
		return fmt.Errorf("transition: call_timeout must not be negative (got %s)", c.Transition.CallTimeout)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log: format must be json or console (got %q)", c.Log.Format)
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit: path required when enabled")
	}
	return nil
}
