// ABOUTME: Configuration loading and parsing for coven-collab
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// minJWTSecretLength mirrors the verifier's HS256 secret requirement.
const minJWTSecretLength = 32

// Default collaboration timing and sizing.
const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultIdleTimeout       = 75 * time.Second
	DefaultTypingTimeout     = 10 * time.Second
	DefaultLockTimeout       = 30 * time.Minute
	DefaultSessionTTL        = 7 * 24 * time.Hour
	DefaultSendBuffer        = 64
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultMetricsPath       = "/metrics"
	DefaultSessionCookie     = "coven_session"
)

// Config represents the complete coven-collab configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Collab    CollabConfig    `yaml:"collab" toml:"collab"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds handshake authentication configuration
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret" toml:"jwt_secret"`
	SessionCookie   string `yaml:"session_cookie" toml:"session_cookie"`
	AllowQueryToken bool   `yaml:"allow_query_token" toml:"allow_query_token"`
	SecureCookie    bool   `yaml:"secure_cookie" toml:"secure_cookie"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl" toml:"session_ttl"`
}

// CollabConfig holds realtime timing and sizing. A zero timeout disables the
// corresponding reclaim.
type CollabConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	IdleTimeout       time.Duration `yaml:"-" toml:"-"`
	TypingTimeout     time.Duration `yaml:"-" toml:"-"`
	LockTimeout       time.Duration `yaml:"-" toml:"-"`
	SweepInterval     time.Duration `yaml:"-" toml:"-"`

	SendBuffer      int   `yaml:"send_buffer" toml:"send_buffer"`
	MaxMessageBytes int64 `yaml:"max_message_bytes" toml:"max_message_bytes"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	IdleTimeoutRaw       string `yaml:"idle_timeout" toml:"idle_timeout"`
	TypingTimeoutRaw     string `yaml:"typing_timeout" toml:"typing_timeout"`
	LockTimeoutRaw       string `yaml:"lock_timeout" toml:"lock_timeout"`
	SweepIntervalRaw     string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath resolves the config file location: COVEN_COLLAB_CONFIG, then
// $XDG_CONFIG_HOME/coven/collab.yaml, then ~/.config/coven/collab.yaml.
func DefaultPath() string {
	if p := os.Getenv("COVEN_COLLAB_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "collab.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coven", "collab.yaml")
	}
	return filepath.Join(home, ".config", "coven", "collab.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields. Durations given explicitly as "0s" stay
// zero so operators can disable a reclaim.
func (c *Config) applyDefaults() {
	if c.Auth.SessionCookie == "" {
		c.Auth.SessionCookie = DefaultSessionCookie
	}
	if c.Auth.SessionTTLRaw == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Collab.HeartbeatIntervalRaw == "" {
		c.Collab.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Collab.IdleTimeoutRaw == "" {
		c.Collab.IdleTimeout = DefaultIdleTimeout
	}
	if c.Collab.TypingTimeoutRaw == "" {
		c.Collab.TypingTimeout = DefaultTypingTimeout
	}
	if c.Collab.LockTimeoutRaw == "" {
		c.Collab.LockTimeout = DefaultLockTimeout
	}
	if c.Collab.SendBuffer == 0 {
		c.Collab.SendBuffer = DefaultSendBuffer
	}
	if c.Collab.MaxMessageBytes == 0 {
		c.Collab.MaxMessageBytes = DefaultMaxMessageBytes
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"auth.session_ttl", c.Auth.SessionTTL},
		{"collab.heartbeat_interval", c.Collab.HeartbeatInterval},
		{"collab.idle_timeout", c.Collab.IdleTimeout},
		{"collab.typing_timeout", c.Collab.TypingTimeout},
		{"collab.lock_timeout", c.Collab.LockTimeout},
		{"collab.sweep_interval", c.Collab.SweepInterval},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	if c.Auth.SessionTTL == 0 {
		return errors.New("auth.session_ttl must be positive")
	}

	if c.Collab.IdleTimeout > 0 && c.Collab.HeartbeatInterval > 0 && c.Collab.IdleTimeout <= c.Collab.HeartbeatInterval {
		return errors.New("collab.idle_timeout must be longer than collab.heartbeat_interval")
	}

	if c.Collab.SendBuffer < 0 {
		return errors.New("collab.send_buffer must not be negative")
	}
	if c.Collab.MaxMessageBytes < 0 {
		return errors.New("collab.max_message_bytes must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"heartbeat_interval", cfg.Collab.HeartbeatIntervalRaw, &cfg.Collab.HeartbeatInterval},
		{"idle_timeout", cfg.Collab.IdleTimeoutRaw, &cfg.Collab.IdleTimeout},
		{"typing_timeout", cfg.Collab.TypingTimeoutRaw, &cfg.Collab.TypingTimeout},
		{"lock_timeout", cfg.Collab.LockTimeoutRaw, &cfg.Collab.LockTimeout},
		{"sweep_interval", cfg.Collab.SweepIntervalRaw, &cfg.Collab.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
