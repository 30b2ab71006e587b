// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "5s"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"

presence:
  backend: "redis"
  redis_addr: "localhost:6379"
  debounce: "1500ms"
  idle_timeout: "4s"
  key_ttl: "10s"

knowledge:
  cache_ttl: "30s"
  cache_size: 256

assistant:
  provider: "gemini"
  model: "gemini-1.5-pro"
  api_key: "key"
  timeout: "20s"
  rate_per_minute: 30
  burst: 5
  inbound_per_minute: 12
  temperature: 0.7
  serialize_sessions: true

dedupe:
  ttl: "1h"
  max_entries: 50

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Presence.Backend != "redis" || cfg.Presence.RedisAddr != "localhost:6379" {
		t.Errorf("Presence = %+v, want redis backend at localhost:6379", cfg.Presence)
	}
	if cfg.Presence.Debounce != 1500*time.Millisecond {
		t.Errorf("Presence.Debounce = %v, want 1.5s", cfg.Presence.Debounce)
	}
	if cfg.Presence.IdleTimeout != 4*time.Second {
		t.Errorf("Presence.IdleTimeout = %v, want 4s", cfg.Presence.IdleTimeout)
	}
	if cfg.Presence.KeyTTL != 10*time.Second {
		t.Errorf("Presence.KeyTTL = %v, want 10s", cfg.Presence.KeyTTL)
	}
	if cfg.Knowledge.CacheTTL != 30*time.Second || cfg.Knowledge.CacheSize != 256 {
		t.Errorf("Knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Assistant.Provider != "gemini" || cfg.Assistant.Model != "gemini-1.5-pro" {
		t.Errorf("Assistant provider/model = %q/%q", cfg.Assistant.Provider, cfg.Assistant.Model)
	}
	if cfg.Assistant.Timeout != 20*time.Second {
		t.Errorf("Assistant.Timeout = %v, want 20s", cfg.Assistant.Timeout)
	}
	if cfg.Assistant.RatePerMinute != 30 || cfg.Assistant.Burst != 5 || cfg.Assistant.InboundPerMinute != 12 {
		t.Errorf("Assistant rate limits = %+v", cfg.Assistant)
	}
	if cfg.Assistant.Temperature == nil || *cfg.Assistant.Temperature != 0.7 {
		t.Errorf("Assistant.Temperature = %v, want 0.7", cfg.Assistant.Temperature)
	}
	if !cfg.Assistant.SerializeSessions {
		t.Error("Assistant.SerializeSessions should be true")
	}
	if cfg.Dedupe.TTL != time.Hour || cfg.Dedupe.MaxEntries != 50 {
		t.Errorf("Dedupe = %+v", cfg.Dedupe)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Presence.Backend != "memory" {
		t.Errorf("Presence.Backend = %q, want memory", cfg.Presence.Backend)
	}
	if cfg.Assistant.Provider != "none" {
		t.Errorf("Assistant.Provider = %q, want none", cfg.Assistant.Provider)
	}
	if cfg.Assistant.Temperature != nil {
		t.Errorf("Assistant.Temperature = %v, want nil", *cfg.Assistant.Temperature)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Dedupe.TTL != 24*time.Hour || cfg.Dedupe.MaxEntries != 10000 {
		t.Errorf("Dedupe = %+v", cfg.Dedupe)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	// Zero presence timings mean the tracker applies its own defaults.
	if cfg.Presence.Debounce != 0 || cfg.Presence.IdleTimeout != 0 {
		t.Errorf("Presence timings = %v/%v, want unset", cfg.Presence.Debounce, cfg.Presence.IdleTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SUPPORT_SECRET", testSecret)
	t.Setenv("TEST_SUPPORT_KEY", "sk-test")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_SUPPORT_SECRET}"
assistant:
  provider: "openai"
  api_key: "${TEST_SUPPORT_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("Assistant.APIKey = %q, want %q", cfg.Assistant.APIKey, "sk-test")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${TEST_EXPAND_SET}", "value"},
		{"a-${TEST_EXPAND_SET}-b", "a-value-b"},
		{"${TEST_EXPAND_UNSET_VAR}", ""},
		{"$TEST_EXPAND_SET", "$TEST_EXPAND_SET"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [unclosed")
	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
presence:
  debounce: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "presence.debounce") {
		t.Errorf("error = %v, want mention of presence.debounce", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "./test.db"},
			Auth:     AuthConfig{JWTSecret: testSecret},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "support"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"redis without addr", func(c *Config) { c.Presence.Backend = "redis" }, "presence.redis_addr"},
		{"unknown presence backend", func(c *Config) { c.Presence.Backend = "etcd" }, "presence.backend"},
		{"unknown provider", func(c *Config) { c.Assistant.Provider = "markov" }, "assistant.provider"},
		{"gemini without key", func(c *Config) { c.Assistant.Provider = "gemini" }, "assistant.api_key"},
		{"ollama without key", func(c *Config) { c.Assistant.Provider = "ollama" }, ""},
		{"negative burst", func(c *Config) { c.Assistant.Burst = -1 }, "burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
