// Package config provides configuration loading using koanf.
// Precedence: env → compiled defaults; CLI flags are applied by the caller.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/roomchat/internal/domain"
)

// EnvPrefix is stripped from environment variable names; the remainder,
// lower-cased, is the config key (CHAT_API_BASE_URL → api_base_url).
const EnvPrefix = "CHAT_"

// Config holds all client configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`
	ServiceName string `koanf:"service_name"`

	// Logging configuration. The terminal UI owns stdout, so logs go to a file.
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
	LogFile   string `koanf:"log_file"`

	// Collaborator endpoints
	SocketServerURL string `koanf:"socket_server_url"`
	APIBaseURL      string `koanf:"api_base_url"`

	// Registration gate. Compared locally before any network call; the
	// server must enforce authorization on its own.
	AuthCode                string `koanf:"auth_code"`
	AuthCodeMismatchMessage string `koanf:"auth_code_mismatch_message"`

	// Transport timings
	AckTimeout               time.Duration `koanf:"ack_timeout"`
	AuthTimeout              time.Duration `koanf:"auth_timeout"`
	HandshakeTimeout         time.Duration `koanf:"handshake_timeout"`
	WriteTimeout             time.Duration `koanf:"write_timeout"`
	ReconnectInitialInterval time.Duration `koanf:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `koanf:"reconnect_max_interval"`

	// Keep the typed text when a send acknowledgment fails instead of
	// losing it to the optimistic clear.
	RestoreDraftOnFailure bool `koanf:"restore_draft_on_failure"`

	// OpenTelemetry; empty endpoint disables OTLP export.
	OTELEndpoint string `koanf:"otel_endpoint"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		ServiceName: "roomchat",
		LogLevel:    "info",
		LogFormat:   "json",
		LogFile:     "roomchat.log",

		SocketServerURL: "ws://localhost:3001/ws",
		APIBaseURL:      "http://localhost:3001/api",

		AuthCodeMismatchMessage: domain.ErrAuthCodeMismatch.Error(),

		AckTimeout:               domain.AckTimeout,
		AuthTimeout:              domain.AuthTimeout,
		HandshakeTimeout:         domain.HandshakeTimeout,
		WriteTimeout:             domain.WriteTimeout,
		ReconnectInitialInterval: domain.ReconnectInitialInterval,
		ReconnectMaxInterval:     domain.ReconnectMaxInterval,
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables prefixed with CHAT_ (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing or malformed values fail startup.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required keys and value shapes. Callers that override
// fields after Load (CLI flags) must call it again.
func (c *Config) Validate() error {
	if err := validateURL("socket_server_url", c.SocketServerURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api_base_url", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}

	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"ack_timeout", c.AckTimeout},
		{"auth_timeout", c.AuthTimeout},
		{"handshake_timeout", c.HandshakeTimeout},
		{"write_timeout", c.WriteTimeout},
		{"reconnect_initial_interval", c.ReconnectInitialInterval},
		{"reconnect_max_interval", c.ReconnectMaxInterval},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", domain.ErrConfigInvalid, t.key)
		}
	}
	if c.ReconnectMaxInterval < c.ReconnectInitialInterval {
		return fmt.Errorf("%w: reconnect_max_interval below reconnect_initial_interval", domain.ErrConfigInvalid)
	}

	// In production the registration gate must be configured.
	if c.IsProd() && c.AuthCode == "" {
		return fmt.Errorf("%w: auth_code", domain.ErrConfigRequired)
	}

	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s", domain.ErrConfigRequired, key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrConfigInvalid, key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be a %s URL", domain.ErrConfigInvalid, key, strings.Join(schemes, "/"))
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
