package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for cardbridge.
type Config struct {
	Slack     SlackConfig     `yaml:"slack"`
	Agent     AgentConfig     `yaml:"agent"`
	Streaming StreamingConfig `yaml:"streaming"`
	History   HistoryConfig   `yaml:"history"`
	Typing    TypingConfig    `yaml:"typing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SlackConfig holds the realtime connection settings. Only socket mode
// is supported; webhook mode is rejected at validation.
type SlackConfig struct {
	Mode     string `yaml:"mode"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`

	// RespondInChannels allows plain channel messages (no mention, not
	// a DM, not in a thread) to reach the agent. Off by default.
	RespondInChannels bool `yaml:"respond_in_channels"`
}

// AgentConfig configures the upstream model.
type AgentConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	SystemPrompt   string        `yaml:"system_prompt"`
	EnableThinking bool          `yaml:"enable_thinking"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// StreamingConfig tunes the card renderer.
type StreamingConfig struct {
	// Enabled defaults to true when omitted.
	Enabled            *bool         `yaml:"enabled"`
	PatchInterval      time.Duration `yaml:"patch_interval"`
	ImmediateThreshold time.Duration `yaml:"immediate_threshold"`
	Cursor             bool          `yaml:"cursor"`
	RenderMode         string        `yaml:"render_mode"`
	MaxChunkSize       int           `yaml:"max_chunk_size"`
}

// StreamingEnabled reports whether incremental patching is on; omitted
// means on.
func (s StreamingConfig) StreamingEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// HistoryConfig bounds the per-chat history buffer.
type HistoryConfig struct {
	MaxPerChat int `yaml:"max_per_chat"`
}

// TypingConfig controls the reaction-based working indicator.
type TypingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Reaction    string        `yaml:"reaction"`
	TTL         time.Duration `yaml:"ttl"`
	SilentToken string        `yaml:"silent_token"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads, expands, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config bytes with environment variable expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Slack.Mode == "" {
		cfg.Slack.Mode = "socket"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.MaxRetries == 0 {
		cfg.Agent.MaxRetries = 3
	}
	if cfg.Agent.RetryDelay == 0 {
		cfg.Agent.RetryDelay = time.Second
	}
	if cfg.Streaming.PatchInterval == 0 {
		cfg.Streaming.PatchInterval = 500 * time.Millisecond
	}
	if cfg.Streaming.ImmediateThreshold == 0 {
		cfg.Streaming.ImmediateThreshold = 800 * time.Millisecond
	}
	if cfg.Streaming.RenderMode == "" {
		cfg.Streaming.RenderMode = "auto"
	}
	if cfg.History.MaxPerChat == 0 {
		cfg.History.MaxPerChat = 100
	}
	if cfg.Typing.Reaction == "" {
		cfg.Typing.Reaction = "hourglass_flowing_sand"
	}
	if cfg.Typing.TTL == 0 {
		cfg.Typing.TTL = 2 * time.Minute
	}
	if cfg.Typing.SilentToken == "" {
		cfg.Typing.SilentToken = "NO_REPLY"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate fails fast on configuration the bridge cannot run with.
func (c *Config) Validate() error {
	switch c.Slack.Mode {
	case "socket":
	case "webhook":
		return fmt.Errorf("slack.mode %q is not supported: only socket mode is implemented", c.Slack.Mode)
	default:
		return fmt.Errorf("slack.mode %q is invalid: must be \"socket\"", c.Slack.Mode)
	}

	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required")
	}
	if c.Slack.AppToken == "" {
		return fmt.Errorf("slack.app_token is required")
	}
	if c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required")
	}

	switch c.Streaming.RenderMode {
	case "auto", "plain", "card":
	default:
		return fmt.Errorf("streaming.render_mode %q is invalid: must be auto, plain, or card", c.Streaming.RenderMode)
	}

	if c.Streaming.PatchInterval < 0 {
		return fmt.Errorf("streaming.patch_interval must not be negative")
	}
	if c.History.MaxPerChat < 0 {
		return fmt.Errorf("history.max_per_chat must not be negative")
	}
	return nil
}
