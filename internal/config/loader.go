package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment.
// A missing file is not an error; environment variables with the
// VOICEGATE_ prefix still override the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".voicegate", "voicegate.json")
	}

	// Setup viper
	v := viper.New()
	setDefaults(v)

	// Read environment variables, e.g. VOICEGATE_UPSTREAM_OPENAI_API_KEY
	v.SetEnvPrefix("VOICEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".voicegate", "voicegate.json")
}

// setDefaults registers every key with viper so that environment
// overrides apply even when the key is absent from the config file
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.ping_interval_s", defaults.Server.PingIntervalS)
	v.SetDefault("server.write_timeout_s", defaults.Server.WriteTimeoutS)
	v.SetDefault("server.shutdown_timeout_s", defaults.Server.ShutdownTimeoutS)
	v.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	v.SetDefault("auth.enabled", defaults.Auth.Enabled)
	v.SetDefault("auth.jwks_url", defaults.Auth.JWKSURL)
	v.SetDefault("auth.issuer", defaults.Auth.Issuer)
	v.SetDefault("auth.audience", defaults.Auth.Audience)

	v.SetDefault("upstream.provider", defaults.Upstream.Provider)
	v.SetDefault("upstream.retry.max_attempts", defaults.Upstream.Retry.MaxAttempts)
	v.SetDefault("upstream.retry.initial_backoff_ms", defaults.Upstream.Retry.InitialBackoffMs)
	v.SetDefault("upstream.openai.api_key", defaults.Upstream.OpenAI.APIKey)
	v.SetDefault("upstream.openai.stt_model", defaults.Upstream.OpenAI.STTModel)
	v.SetDefault("upstream.openai.chat_model", defaults.Upstream.OpenAI.ChatModel)
	v.SetDefault("upstream.openai.tts_model", defaults.Upstream.OpenAI.TTSModel)
	v.SetDefault("upstream.anthropic.api_key", defaults.Upstream.Anthropic.APIKey)
	v.SetDefault("upstream.anthropic.model", defaults.Upstream.Anthropic.Model)
	v.SetDefault("upstream.sonar.api_key", defaults.Upstream.Sonar.APIKey)
	v.SetDefault("upstream.sonar.base_url", defaults.Upstream.Sonar.BaseURL)
	v.SetDefault("upstream.sonar.model", defaults.Upstream.Sonar.Model)
	v.SetDefault("upstream.sonar.search_context", defaults.Upstream.Sonar.SearchContext)

	v.SetDefault("persona.path", defaults.Persona.Path)

	v.SetDefault("limits.messages_per_minute", defaults.Limits.MessagesPerMinute)
	v.SetDefault("limits.max_chunk_bytes", defaults.Limits.MaxChunkBytes)
	v.SetDefault("limits.max_buffer_bytes", defaults.Limits.MaxBufferBytes)
	v.SetDefault("limits.idle_timeout_s", defaults.Limits.IdleTimeoutS)

	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.retention_days", defaults.Store.RetentionDays)
	v.SetDefault("store.prune_schedule", defaults.Store.PruneSchedule)
	v.SetDefault("store.sweep_schedule", defaults.Store.SweepSchedule)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.console", defaults.Logging.Console)
	v.SetDefault("logging.pretty", defaults.Logging.Pretty)
	v.SetDefault("logging.redaction", defaults.Logging.Redaction)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
