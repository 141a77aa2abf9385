package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	t.Run("should default to openai", func(t *testing.T) {
		generator, err := NewGenerator(Config{
			OpenAI: OpenAIConfig{APIKey: "test-key"},
		})
		require.NoError(t, err)
		assert.Equal(t, "openai", generator.Provider())
	})

	t.Run("should build the anthropic generator", func(t *testing.T) {
		generator, err := NewGenerator(Config{
			Provider:  "anthropic",
			Anthropic: AnthropicConfig{APIKey: "test-key"},
		})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", generator.Provider())
	})

	t.Run("should build the sonar generator", func(t *testing.T) {
		generator, err := NewGenerator(Config{
			Provider: "sonar",
			Sonar:    SonarConfig{APIKey: "test-key"},
		})
		require.NoError(t, err)
		assert.Equal(t, "sonar", generator.Provider())
	})

	t.Run("should reject unsupported providers", func(t *testing.T) {
		generator, err := NewGenerator(Config{Provider: "bard"})
		assert.Nil(t, generator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})

	t.Run("should propagate missing credentials", func(t *testing.T) {
		generator, err := NewGenerator(Config{Provider: "anthropic"})
		assert.Nil(t, generator)
		require.Error(t, err)
	})
}

func TestSonarDefaults(t *testing.T) {
	t.Run("should fill perplexity defaults", func(t *testing.T) {
		generator, err := NewSonarGenerator(SonarConfig{APIKey: "test-key"})
		require.NoError(t, err)

		assert.Equal(t, "https://api.perplexity.ai", generator.config.BaseURL)
		assert.Equal(t, "sonar", generator.config.Model)
		assert.Equal(t, "low", generator.config.SearchContext)
	})
}
