// ABOUTME: Configuration loading and parsing for support-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength matches the verifier's HS256 requirement.
const MinJWTSecretLength = 32

// Config represents the complete support-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Presence  PresenceConfig  `yaml:"presence"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Assistant AssistantConfig `yaml:"assistant"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // serve :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel"` // public Funnel, implies HTTPS on :443
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PresenceConfig controls typing indicators.
type PresenceConfig struct {
	// Backend is "memory" (single instance) or "redis".
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`

	Debounce    time.Duration `yaml:"-"`
	IdleTimeout time.Duration `yaml:"-"`
	KeyTTL      time.Duration `yaml:"-"`

	DebounceRaw    string `yaml:"debounce"`
	IdleTimeoutRaw string `yaml:"idle_timeout"`
	KeyTTLRaw      string `yaml:"key_ttl"`
}

// KnowledgeConfig controls the per-organization rule cache.
type KnowledgeConfig struct {
	CacheSize int `yaml:"cache_size"`

	CacheTTL    time.Duration `yaml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl"`
}

// AssistantConfig selects and tunes the AI reply provider.
type AssistantConfig struct {
	Provider     string   `yaml:"provider"` // none, echo, gemini, openai, ollama
	Model        string   `yaml:"model"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	SystemPrompt string   `yaml:"system_prompt"`
	Name         string   `yaml:"name"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`

	RatePerMinute     float64 `yaml:"rate_per_minute"`
	Burst             int     `yaml:"burst"`
	InboundPerMinute  float64 `yaml:"inbound_per_minute"`
	InboundBurst      int     `yaml:"inbound_burst"`
	SerializeSessions bool    `yaml:"serialize_sessions"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// DedupeConfig sizes the inbound webhook dedupe cache.
type DedupeConfig struct {
	MaxEntries int `yaml:"max_entries"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Presence.Backend == "" {
		c.Presence.Backend = "memory"
	}
	if c.Assistant.Provider == "" {
		c.Assistant.Provider = "none"
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 24 * time.Hour
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10000
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	switch c.Presence.Backend {
	case "memory":
	case "redis":
		if c.Presence.RedisAddr == "" {
			return fmt.Errorf("presence.redis_addr is required when presence.backend is redis")
		}
	default:
		return fmt.Errorf("presence.backend must be memory or redis, got %q", c.Presence.Backend)
	}

	switch c.Assistant.Provider {
	case "none", "echo", "ollama":
	case "gemini", "openai":
		if c.Assistant.APIKey == "" {
			return fmt.Errorf("assistant.api_key is required for provider %s", c.Assistant.Provider)
		}
	default:
		return fmt.Errorf("assistant.provider %q is not supported", c.Assistant.Provider)
	}

	if c.Assistant.Burst < 0 || c.Assistant.InboundBurst < 0 {
		return fmt.Errorf("assistant burst values must not be negative")
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
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"presence.debounce", cfg.Presence.DebounceRaw, &cfg.Presence.Debounce},
		{"presence.idle_timeout", cfg.Presence.IdleTimeoutRaw, &cfg.Presence.IdleTimeout},
		{"presence.key_ttl", cfg.Presence.KeyTTLRaw, &cfg.Presence.KeyTTL},
		{"knowledge.cache_ttl", cfg.Knowledge.CacheTTLRaw, &cfg.Knowledge.CacheTTL},
		{"assistant.timeout", cfg.Assistant.TimeoutRaw, &cfg.Assistant.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
