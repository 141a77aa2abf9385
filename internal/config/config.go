package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main voicegate configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Auth
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Upstream providers
	Upstream UpstreamConfig `json:"upstream" mapstructure:"upstream"`

	// Persona
	Persona PersonaConfig `json:"persona" mapstructure:"persona"`

	// Limits
	Limits LimitsConfig `json:"limits" mapstructure:"limits"`

	// Transcript store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds the WebSocket server configuration
type ServerConfig struct {
	Addr             string   `json:"addr" mapstructure:"addr"`
	PingIntervalS    int      `json:"ping_interval_s" mapstructure:"ping_interval_s"`
	WriteTimeoutS    int      `json:"write_timeout_s" mapstructure:"write_timeout_s"`
	ShutdownTimeoutS int      `json:"shutdown_timeout_s" mapstructure:"shutdown_timeout_s"`
	AllowedOrigins   []string `json:"allowed_origins" mapstructure:"allowed_origins"` // empty = any
}

// AuthConfig holds the bearer token gate configuration
type AuthConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	JWKSURL  string `json:"jwks_url" mapstructure:"jwks_url"`
	Issuer   string `json:"issuer" mapstructure:"issuer"`
	Audience string `json:"audience" mapstructure:"audience"`
}

// UpstreamConfig holds AI provider configuration
type UpstreamConfig struct {
	Provider  string          `json:"provider" mapstructure:"provider"` // openai, anthropic, sonar
	Retry     RetryConfig     `json:"retry" mapstructure:"retry"`
	OpenAI    OpenAIConfig    `json:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `json:"anthropic" mapstructure:"anthropic"`
	Sonar     SonarConfig     `json:"sonar" mapstructure:"sonar"`
}

// RetryConfig holds upstream retry settings
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// OpenAIConfig holds OpenAI credentials and model selection.
// Transcription and synthesis always run here, whichever provider
// generates replies.
type OpenAIConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	STTModel  string `json:"stt_model" mapstructure:"stt_model"`
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`
	TTSModel  string `json:"tts_model" mapstructure:"tts_model"`
}

// AnthropicConfig holds Anthropic credentials and model selection
type AnthropicConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// SonarConfig holds Perplexity Sonar credentials and model selection
type SonarConfig struct {
	APIKey        string `json:"api_key" mapstructure:"api_key"`
	BaseURL       string `json:"base_url" mapstructure:"base_url"`
	Model         string `json:"model" mapstructure:"model"`
	SearchContext string `json:"search_context" mapstructure:"search_context"` // low, medium, high
}

// PersonaConfig points at the persona manifest
type PersonaConfig struct {
	Path string `json:"path" mapstructure:"path"` // empty = compiled-in defaults
}

// LimitsConfig holds per-connection resource limits
type LimitsConfig struct {
	MessagesPerMinute int `json:"messages_per_minute" mapstructure:"messages_per_minute"`
	MaxChunkBytes     int `json:"max_chunk_bytes" mapstructure:"max_chunk_bytes"`
	MaxBufferBytes    int `json:"max_buffer_bytes" mapstructure:"max_buffer_bytes"`
	IdleTimeoutS      int `json:"idle_timeout_s" mapstructure:"idle_timeout_s"`
}

// StoreConfig holds transcript store configuration
type StoreConfig struct {
	Path          string `json:"path" mapstructure:"path"` // empty = disabled
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string   `json:"level" mapstructure:"level"`
	File      string   `json:"file" mapstructure:"file"`
	Console   bool     `json:"console" mapstructure:"console"`
	Pretty    bool     `json:"pretty" mapstructure:"pretty"`
	Redaction []string `json:"redaction" mapstructure:"redaction"` // extra patterns on top of the built-ins
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			PingIntervalS:    30,
			WriteTimeoutS:    10,
			ShutdownTimeoutS: 30,
			AllowedOrigins:   []string{},
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Upstream: UpstreamConfig{
			Provider: "openai",
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMs: 250,
			},
			OpenAI: OpenAIConfig{
				STTModel:  "whisper-1",
				ChatModel: "gpt-4o-mini",
				TTSModel:  "tts-1",
			},
			Anthropic: AnthropicConfig{
				Model: "claude-sonnet-4-0",
			},
			Sonar: SonarConfig{
				BaseURL:       "https://api.perplexity.ai",
				Model:         "sonar",
				SearchContext: "low",
			},
		},
		Persona: PersonaConfig{
			Path: "",
		},
		Limits: LimitsConfig{
			MessagesPerMinute: 120,
			MaxChunkBytes:     1 << 20,
			MaxBufferBytes:    10 << 20,
			IdleTimeoutS:      600,
		},
		Store: StoreConfig{
			Path:          "",
			RetentionDays: 30,
			PruneSchedule: "0 4 * * *",
			SweepSchedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: []string{},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	// Server
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.PingIntervalS <= 0 {
		return fmt.Errorf("server ping_interval_s must be positive, got %d", c.Server.PingIntervalS)
	}
	if c.Server.WriteTimeoutS <= 0 {
		return fmt.Errorf("server write_timeout_s must be positive, got %d", c.Server.WriteTimeoutS)
	}
	if c.Server.ShutdownTimeoutS <= 0 {
		return fmt.Errorf("server shutdown_timeout_s must be positive, got %d", c.Server.ShutdownTimeoutS)
	}

	// Upstream provider and credentials
	if err := v.ValidateProvider(c.Upstream.Provider); err != nil {
		return err
	}
	if c.Upstream.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api_key is required for transcription and synthesis")
	}
	switch c.Upstream.Provider {
	case "anthropic":
		if c.Upstream.Anthropic.APIKey == "" {
			return fmt.Errorf("anthropic api_key is required when provider is anthropic")
		}
	case "sonar":
		if c.Upstream.Sonar.APIKey == "" {
			return fmt.Errorf("sonar api_key is required when provider is sonar")
		}
	}
	if err := v.ValidateSearchContext(c.Upstream.Sonar.SearchContext); err != nil {
		return err
	}
	if c.Upstream.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("upstream retry max_attempts must be positive, got %d", c.Upstream.Retry.MaxAttempts)
	}
	if c.Upstream.Retry.InitialBackoffMs < 0 {
		return fmt.Errorf("upstream retry initial_backoff_ms must be >= 0, got %d", c.Upstream.Retry.InitialBackoffMs)
	}

	// Limits
	if c.Limits.MessagesPerMinute <= 0 {
		return fmt.Errorf("limits messages_per_minute must be positive, got %d", c.Limits.MessagesPerMinute)
	}
	if c.Limits.MaxChunkBytes <= 0 {
		return fmt.Errorf("limits max_chunk_bytes must be positive, got %d", c.Limits.MaxChunkBytes)
	}
	if c.Limits.MaxBufferBytes <= 0 {
		return fmt.Errorf("limits max_buffer_bytes must be positive, got %d", c.Limits.MaxBufferBytes)
	}
	if c.Limits.MaxBufferBytes < c.Limits.MaxChunkBytes {
		return fmt.Errorf("limits max_buffer_bytes must be at least max_chunk_bytes")
	}
	if c.Limits.IdleTimeoutS <= 0 {
		return fmt.Errorf("limits idle_timeout_s must be positive, got %d", c.Limits.IdleTimeoutS)
	}

	// Store
	if c.Store.Path != "" && c.Store.RetentionDays <= 0 {
		return fmt.Errorf("store retention_days must be positive, got %d", c.Store.RetentionDays)
	}
	if err := v.ValidateSchedule(c.Store.PruneSchedule); err != nil {
		return fmt.Errorf("store prune_schedule: %w", err)
	}
	if err := v.ValidateSchedule(c.Store.SweepSchedule); err != nil {
		return fmt.Errorf("store sweep_schedule: %w", err)
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth jwks_url is required when auth is enabled")
		}
		if c.Auth.Issuer == "" {
			return fmt.Errorf("auth issuer is required when auth is enabled")
		}
		if c.Auth.Audience == "" {
			return fmt.Errorf("auth audience is required when auth is enabled")
		}
	}

	// Logging
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	for _, pattern := range c.Logging.Redaction {
		if err := v.ValidateRedactionPattern(pattern); err != nil {
			return err
		}
	}

	return nil
}
