// Package config loads the runtime's YAML configuration file: transport
// connection settings, logging, and the façade's REST/auth wiring.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Facade    FacadeConfig    `yaml:"facade"`
}

// TransportConfig configures the single long-lived socket per spec.md §6:
// everything but BaseURL is optional and defaulted.
type TransportConfig struct {
	// BaseURL's scheme is swapped http<->ws, https<->wss by the transport.
	BaseURL string `yaml:"base_url"`

	// Timeout is the initial connect timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Reconnection enables automatic reconnect.
	Reconnection *bool `yaml:"reconnection"`

	// ReconnectionAttempts bounds retry count; zero means unlimited.
	ReconnectionAttempts int `yaml:"reconnection_attempts"`

	// ReconnectionDelay/ReconnectionDelayMax bound the backoff policy.
	ReconnectionDelay    time.Duration `yaml:"reconnection_delay"`
	ReconnectionDelayMax time.Duration `yaml:"reconnection_delay_max"`

	// OrganizationID/TenantID are propagated as connection query params.
	OrganizationID string `yaml:"organization_id"`
	TenantID       string `yaml:"tenant_id"`
}

// LoggingConfig configures internal/observability.Logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// FacadeConfig configures the REST boundary the service façade binds to.
type FacadeConfig struct {
	RestBaseURL string        `yaml:"rest_base_url"`
	RestTimeout time.Duration `yaml:"rest_timeout"`
}

// Load reads path, expands ${ENV_VAR} references, decodes strict YAML (an
// unknown field is a load error, not a silent ignore), applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 5 * time.Second
	}
	if cfg.Transport.Reconnection == nil {
		enabled := true
		cfg.Transport.Reconnection = &enabled
	}
	if cfg.Transport.ReconnectionDelay == 0 {
		cfg.Transport.ReconnectionDelay = 200 * time.Millisecond
	}
	if cfg.Transport.ReconnectionDelayMax == 0 {
		cfg.Transport.ReconnectionDelayMax = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Facade.RestTimeout == 0 {
		cfg.Facade.RestTimeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Transport.BaseURL == "" {
		return fmt.Errorf("transport.base_url is required")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json|text", cfg.Logging.Format)
	}
	return nil
}
