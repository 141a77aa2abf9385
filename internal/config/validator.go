package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	schedules cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		schedules: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateProvider validates an upstream provider name
func (v *Validator) ValidateProvider(provider string) error {
	if provider == "" {
		return fmt.Errorf("upstream provider is required")
	}

	validProviders := []string{"openai", "anthropic", "sonar"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid upstream provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateSchedule validates a cron expression or descriptor
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}

	if _, err := v.schedules.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	return nil
}

// ValidateSearchContext validates a Sonar web search context size
func (v *Validator) ValidateSearchContext(size string) error {
	if size == "" {
		return nil // Use the provider default
	}

	validSizes := []string{"low", "medium", "high"}
	for _, valid := range validSizes {
		if size == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid search_context: %s (must be one of: %s)", size, strings.Join(validSizes, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRedactionPattern validates a custom redaction regexp
func (v *Validator) ValidateRedactionPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("redaction pattern cannot be empty")
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
	}

	return nil
}

// ValidateConfig performs comprehensive validation, collecting every
// problem instead of stopping at the first
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Upstream.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Upstream.OpenAI.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Upstream.OpenAI.APIKey, "openai"); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Upstream.Anthropic.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Upstream.Anthropic.APIKey, "anthropic"); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateSearchContext(cfg.Upstream.Sonar.SearchContext); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateSchedule(cfg.Store.PruneSchedule); err != nil {
		errors = append(errors, fmt.Errorf("store prune_schedule: %w", err))
	}
	if err := v.ValidateSchedule(cfg.Store.SweepSchedule); err != nil {
		errors = append(errors, fmt.Errorf("store sweep_schedule: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	for _, pattern := range cfg.Logging.Redaction {
		if err := v.ValidateRedactionPattern(pattern); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
