// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "collab.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  session_cookie: "collab"
  allow_query_token: true
  session_ttl: "12h"

collab:
  heartbeat_interval: "20s"
  idle_timeout: "1m"
  typing_timeout: "5s"
  lock_timeout: "10m"
  sweep_interval: "2s"
  send_buffer: 128
  max_message_bytes: 4096

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Auth.SessionCookie != "collab" || !cfg.Auth.AllowQueryToken {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Auth.SessionTTL != 12*time.Hour {
		t.Errorf("Auth.SessionTTL = %v", cfg.Auth.SessionTTL)
	}

	want := map[string][2]time.Duration{
		"heartbeat_interval": {cfg.Collab.HeartbeatInterval, 20 * time.Second},
		"idle_timeout":       {cfg.Collab.IdleTimeout, time.Minute},
		"typing_timeout":     {cfg.Collab.TypingTimeout, 5 * time.Second},
		"lock_timeout":       {cfg.Collab.LockTimeout, 10 * time.Minute},
		"sweep_interval":     {cfg.Collab.SweepInterval, 2 * time.Second},
	}
	for name, pair := range want {
		if pair[0] != pair[1] {
			t.Errorf("%s = %v, want %v", name, pair[0], pair[1])
		}
	}

	if cfg.Collab.SendBuffer != 128 || cfg.Collab.MaxMessageBytes != 4096 {
		t.Errorf("Collab sizing = %d/%d", cfg.Collab.SendBuffer, cfg.Collab.MaxMessageBytes)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/prom" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "collab.toml", `
[server]
http_addr = "127.0.0.1:9000"

[database]
path = "collab.db"

[collab]
typing_timeout = "3s"
lock_timeout = "0s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Collab.TypingTimeout != 3*time.Second {
		t.Errorf("TypingTimeout = %v", cfg.Collab.TypingTimeout)
	}
	if cfg.Collab.LockTimeout != 0 {
		t.Errorf("LockTimeout = %v, want explicit zero to disable", cfg.Collab.LockTimeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "collab.yaml", `
server:
  http_addr: ":8080"
database:
  path: "collab.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Collab.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v", cfg.Collab.HeartbeatInterval)
	}
	if cfg.Collab.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v", cfg.Collab.IdleTimeout)
	}
	if cfg.Collab.TypingTimeout != DefaultTypingTimeout {
		t.Errorf("TypingTimeout = %v", cfg.Collab.TypingTimeout)
	}
	if cfg.Collab.LockTimeout != DefaultLockTimeout {
		t.Errorf("LockTimeout = %v", cfg.Collab.LockTimeout)
	}
	if cfg.Collab.SweepInterval != 0 {
		t.Errorf("SweepInterval = %v, want 0 (derived at runtime)", cfg.Collab.SweepInterval)
	}
	if cfg.Collab.SendBuffer != DefaultSendBuffer {
		t.Errorf("SendBuffer = %d", cfg.Collab.SendBuffer)
	}
	if cfg.Collab.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("MaxMessageBytes = %d", cfg.Collab.MaxMessageBytes)
	}
	if cfg.Auth.SessionCookie != DefaultSessionCookie {
		t.Errorf("SessionCookie = %q", cfg.Auth.SessionCookie)
	}
	if cfg.Auth.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v", cfg.Auth.SessionTTL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_COLLAB_SECRET", testSecret)
	t.Setenv("TEST_COLLAB_DB", "/tmp/collab-test.db")

	path := writeConfig(t, "collab.yaml", `
server:
  http_addr: ":8080"
database:
  path: "${TEST_COLLAB_DB}"
auth:
  jwt_secret: "${TEST_COLLAB_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/collab-test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "collab.yaml", "server: [unclosed")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "collab.yaml", `
server:
  http_addr: ":8080"
database:
  path: "collab.db"
collab:
  typing_timeout: "soon"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "typing_timeout") {
		t.Fatalf("Load() error = %v, want typing_timeout error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "collab.db"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing http addr", mutate: func(c *Config) { c.Server.HTTPAddr = "" }, wantErr: "server.http_addr"},
		{name: "tailscale replaces http addr", mutate: func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "collab"}
		}},
		{name: "tailscale without hostname", mutate: func(c *Config) { c.Tailscale.Enabled = true }, wantErr: "tailscale.hostname"},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: "jwt_secret"},
		{name: "negative timeout", mutate: func(c *Config) { c.Collab.LockTimeout = -time.Second }, wantErr: "lock_timeout"},
		{name: "idle shorter than heartbeat", mutate: func(c *Config) {
			c.Collab.IdleTimeout = 10 * time.Second
			c.Collab.HeartbeatInterval = 20 * time.Second
		}, wantErr: "idle_timeout"},
		{name: "idle disabled", mutate: func(c *Config) { c.Collab.IdleTimeout = 0 }},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "bad metrics path", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, wantErr: "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("COLLAB_A", "alpha")

	if got := expandEnvVars("x=${COLLAB_A} y=${COLLAB_UNSET_VAR}"); got != "x=alpha y=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("COVEN_COLLAB_CONFIG", "/etc/collab.toml")
	if got := DefaultPath(); got != "/etc/collab.toml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("COVEN_COLLAB_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "coven", "collab.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
