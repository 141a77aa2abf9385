package upstream

import (
	"fmt"
)

// Config selects and configures the reply generator.
type Config struct {
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Sonar     SonarConfig
}

// NewGenerator creates the generator named by config.Provider.
func NewGenerator(config Config) (Generator, error) {
	switch config.Provider {
	case "openai", "":
		generator, err := NewOpenAIClient(config.OpenAI)
		if err != nil {
			return nil, err
		}
		return generator, nil
	case "anthropic":
		generator, err := NewAnthropicGenerator(config.Anthropic)
		if err != nil {
			return nil, err
		}
		return generator, nil
	case "sonar":
		generator, err := NewSonarGenerator(config.Sonar)
		if err != nil {
			return nil, err
		}
		return generator, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}
