// Package config loads the kitchensight configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/pantryos/kitchensight/pkg/monitoring"
)

// Config holds the full process configuration.
type Config struct {
	// ListenAddr is the bind address of the HTTP read surface.
	ListenAddr string `yaml:"listen_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// DependencyAddr is an optional TCP address whose reachability is used
	// as the readiness dependency probe (e.g., the database host:port).
	// Empty disables the probe.
	DependencyAddr string `yaml:"dependency_addr"`

	// Retention bounds the per-category sample histories.
	Retention monitoring.StoreConfig `yaml:"retention"`
	// AlertHistory bounds the retained alert history.
	AlertHistory int `yaml:"alert_history"`

	// SampleInterval is the system sampling cadence.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// EvaluationInterval is the alert evaluation tick cadence.
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`
	// AlertCooldown is the minimum interval between alerts of one type.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
	// ProbeTimeout bounds each dependency probe invocation.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// StallTimeout fails liveness when nothing has been recorded for longer.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// SlowOperationThreshold triggers slow-operation warnings; zero disables.
	SlowOperationThreshold time.Duration `yaml:"slow_operation_threshold"`

	// Thresholds overrides the default alert thresholds per metric key.
	Thresholds map[string]monitoring.Threshold `yaml:"thresholds"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ListenAddr:             ":8090",
		LogLevel:               "info",
		Retention:              monitoring.DefaultStoreConfig(),
		AlertHistory:           1000,
		SampleInterval:         60 * time.Second,
		EvaluationInterval:     60 * time.Second,
		AlertCooldown:          5 * time.Minute,
		ProbeTimeout:           2 * time.Second,
		StallTimeout:           5 * time.Minute,
		SlowOperationThreshold: time.Second,
		Thresholds:             monitoring.DefaultThresholds(),
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then KITCHENSIGHT_* environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KITCHENSIGHT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("KITCHENSIGHT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KITCHENSIGHT_DEPENDENCY_ADDR"); v != "" {
		c.DependencyAddr = v
	}
	overrideInt("KITCHENSIGHT_REQUEST_HISTORY", &c.Retention.RequestHistory)
	overrideInt("KITCHENSIGHT_SYSTEM_HISTORY", &c.Retention.SystemHistory)
	overrideInt("KITCHENSIGHT_SPANS_PER_OPERATION", &c.Retention.SpansPerOperation)
	overrideInt("KITCHENSIGHT_ALERT_HISTORY", &c.AlertHistory)
	overrideDuration("KITCHENSIGHT_SAMPLE_INTERVAL", &c.SampleInterval)
	overrideDuration("KITCHENSIGHT_EVALUATION_INTERVAL", &c.EvaluationInterval)
	overrideDuration("KITCHENSIGHT_ALERT_COOLDOWN", &c.AlertCooldown)
	overrideDuration("KITCHENSIGHT_PROBE_TIMEOUT", &c.ProbeTimeout)
	overrideDuration("KITCHENSIGHT_STALL_TIMEOUT", &c.StallTimeout)
	overrideDuration("KITCHENSIGHT_SLOW_OPERATION_THRESHOLD", &c.SlowOperationThreshold)
}

func overrideInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func overrideDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// Validate rejects nonsensical settings.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.Retention.RequestHistory <= 0 {
		return fmt.Errorf("retention.request_history must be positive")
	}
	if c.Retention.SystemHistory <= 0 {
		return fmt.Errorf("retention.system_history must be positive")
	}
	if c.Retention.SpansPerOperation <= 0 {
		return fmt.Errorf("retention.spans_per_operation must be positive")
	}
	if c.AlertHistory <= 0 {
		return fmt.Errorf("alert_history must be positive")
	}
	for name, d := range map[string]time.Duration{
		"sample_interval":     c.SampleInterval,
		"evaluation_interval": c.EvaluationInterval,
		"alert_cooldown":      c.AlertCooldown,
		"probe_timeout":       c.ProbeTimeout,
		"stall_timeout":       c.StallTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.SlowOperationThreshold < 0 {
		return fmt.Errorf("slow_operation_threshold must not be negative")
	}
	for key, t := range c.Thresholds {
		if err := monitoring.ValidateThreshold(key, t); err != nil {
			return fmt.Errorf("thresholds[%s]: %w", key, err)
		}
	}
	return nil
}
