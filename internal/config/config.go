// ABOUTME: Configuration loading and parsing for parley
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

// Default system prompts used when the config leaves them empty.
const (
	DefaultChatPrompt      = "You are a helpful AI assistant. Answer the user's questions clearly and concisely."
	DefaultTranslatePrompt = "You are a helpful assistant that translates Chinese to English. Translate the user's text accurately and naturally. Only output the translation, nothing else."
)

// Provider kinds understood by the gateway.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderEcho      = "echo"
)

// Tokenizer names understood by the usage ledger.
const (
	TokenizerCL100K   = "cl100k_base"
	TokenizerEstimate = "estimate"
)

// Config represents the complete parley configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Prompts   PromptsConfig   `yaml:"prompts" toml:"prompts"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Usage     UsageConfig     `yaml:"usage" toml:"usage"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
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
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ProviderConfig selects and tunes the language-model backend
type ProviderConfig struct {
	Kind          string  `yaml:"kind" toml:"kind"`
	Model         string  `yaml:"model" toml:"model"`
	APIKey        string  `yaml:"api_key" toml:"api_key"`
	BaseURL       string  `yaml:"base_url" toml:"base_url"`
	Temperature   float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens     int64   `yaml:"max_tokens" toml:"max_tokens"`
	MaxRetries    int     `yaml:"max_retries" toml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent" toml:"max_concurrent"`

	Timeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for YAML/TOML unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// PromptsConfig holds the system prompts for each conversation kind
type PromptsConfig struct {
	Chat      string `yaml:"chat" toml:"chat"`
	Translate string `yaml:"translate" toml:"translate"`
}

// SessionsConfig holds session memory configuration
type SessionsConfig struct {
	// DefaultID is used when a chat request carries no sessionId
	DefaultID string `yaml:"default_id" toml:"default_id"`
	// MaxTurns is the high-water mark; exceeding it trims history to KeepTurns
	MaxTurns  int `yaml:"max_turns" toml:"max_turns"`
	KeepTurns int `yaml:"keep_turns" toml:"keep_turns"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// UsageConfig holds usage ledger configuration
type UsageConfig struct {
	Tokenizer     string `yaml:"tokenizer" toml:"tokenizer"`
	PruneSchedule string `yaml:"prune_schedule" toml:"prune_schedule"`

	Retention time.Duration `yaml:"-" toml:"-"`

	RetentionRaw string `yaml:"retention" toml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a complete configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "localhost:3000"},
		Tailscale: TailscaleConfig{
			Hostname: "parley",
		},
		Provider: ProviderConfig{
			Kind:          ProviderOpenAI,
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     1024,
			MaxRetries:    2,
			MaxConcurrent: 16,
			Timeout:       2 * time.Minute,
			TimeoutRaw:    "2m",
		},
		Prompts: PromptsConfig{
			Chat:      DefaultChatPrompt,
			Translate: DefaultTranslatePrompt,
		},
		Sessions: SessionsConfig{
			DefaultID: "default",
			MaxTurns:  20,
			KeepTurns: 10,
		},
		Database: DatabaseConfig{Path: ":memory:"},
		Usage: UsageConfig{
			Tokenizer:     TokenizerCL100K,
			PruneSchedule: "@every 1h",
			Retention:     30 * 24 * time.Hour,
			RetentionRaw:  "720h",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields left out of the file keep the values from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(cfg)
}

// LoadOrDefault loads the file at path, or falls back to Default when it does
// not exist. Either way the legacy environment variables are applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnv()

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides provider settings with MODEL_NAME, API_KEY and API_URL
// when they are set, and PORT replaces the HTTP listen port.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("API_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if port := os.Getenv("PORT"); port != "" {
		host := "localhost"
		if h, _, ok := strings.Cut(c.Server.HTTPAddr, ":"); ok && h != "" {
			host = h
		}
		c.Server.HTTPAddr = host + ":" + port
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
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

	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderAnthropic:
		if c.Provider.Model == "" {
			return fmt.Errorf("provider.model is required for %s", c.Provider.Kind)
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("provider.kind must be one of openai, anthropic, echo (got %q)", c.Provider.Kind)
	}

	if c.Provider.MaxConcurrent < 0 {
		return fmt.Errorf("provider.max_concurrent must not be negative")
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}

	if c.Sessions.KeepTurns <= 0 {
		return fmt.Errorf("sessions.keep_turns must be positive")
	}
	if c.Sessions.KeepTurns >= c.Sessions.MaxTurns {
		return fmt.Errorf("sessions.keep_turns (%d) must be less than sessions.max_turns (%d)",
			c.Sessions.KeepTurns, c.Sessions.MaxTurns)
	}
	if c.Sessions.DefaultID == "" {
		return fmt.Errorf("sessions.default_id is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Usage.Tokenizer {
	case TokenizerCL100K, TokenizerEstimate:
	default:
		return fmt.Errorf("usage.tokenizer must be %q or %q (got %q)", TokenizerCL100K, TokenizerEstimate, c.Usage.Tokenizer)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Provider.TimeoutRaw != "" {
		cfg.Provider.Timeout, err = time.ParseDuration(cfg.Provider.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing provider.timeout %q: %w", cfg.Provider.TimeoutRaw, err)
		}
	}

	if cfg.Usage.RetentionRaw != "" {
		cfg.Usage.Retention, err = time.ParseDuration(cfg.Usage.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing usage.retention %q: %w", cfg.Usage.RetentionRaw, err)
		}
	}

	return nil
}
