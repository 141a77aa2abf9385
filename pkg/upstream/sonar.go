package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/pkg/session"
)

// SonarConfig configures the Perplexity Sonar backed generator, which
// answers with web search grounding through an OpenAI compatible API.
type SonarConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// SearchContext sizes the web search context: low, medium or high.
	SearchContext string
	Temperature   float64
	MaxTokens     int
}

// SonarGenerator implements Generator for Perplexity Sonar
type SonarGenerator struct {
	client openai.Client
	config SonarConfig
}

// NewSonarGenerator creates a new Sonar generator
func NewSonarGenerator(config SonarConfig) (*SonarGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.perplexity.ai"
	}
	if config.Model == "" {
		config.Model = "sonar"
	}
	if config.SearchContext == "" {
		config.SearchContext = "low"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	return &SonarGenerator{
		client: openai.NewClient(
			option.WithAPIKey(config.APIKey),
			option.WithBaseURL(config.BaseURL),
			option.WithMaxRetries(0),
		),
		config: config,
	}, nil
}

// Provider returns the provider name
func (g *SonarGenerator) Provider() string {
	return "sonar"
}

// Generate produces the next assistant turn, grounded by web search.
func (g *SonarGenerator) Generate(ctx context.Context, turns []session.Turn, opts GenerateOptions) (string, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.config.Model),
		Messages: chatMessages(turns),
	}

	maxTokens := g.config.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	params.MaxTokens = openai.Int(int64(maxTokens))

	temperature := g.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	// web_search_options is a Perplexity extension to the chat
	// completions schema.
	response, err := g.client.Chat.Completions.New(ctx, params,
		option.WithJSONSet("web_search_options", map[string]string{
			"search_context_size": g.config.SearchContext,
		}),
	)
	observability.RecordUpstreamRequest(g.Provider(), "generate", time.Since(start), err == nil)
	if err != nil {
		return "", wrapOpenAIError(g.Provider(), "generate", err)
	}

	if len(response.Choices) == 0 {
		return "", &Error{Provider: g.Provider(), Op: "generate", Err: ErrEmptyReply}
	}

	return response.Choices[0].Message.Content, nil
}
