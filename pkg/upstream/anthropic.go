package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/pkg/session"
)

// AnthropicConfig configures the Anthropic backed generator.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// AnthropicGenerator implements Generator for Anthropic Claude
type AnthropicGenerator struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicGenerator creates a new Anthropic generator
func NewAnthropicGenerator(config AnthropicConfig) (*AnthropicGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.Model == "" {
		config.Model = string(anthropic.ModelClaudeSonnet4_0)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	return &AnthropicGenerator{
		client: anthropic.NewClient(
			option.WithAPIKey(config.APIKey),
			option.WithMaxRetries(0),
		),
		config: config,
	}, nil
}

// Provider returns the provider name
func (g *AnthropicGenerator) Provider() string {
	return "anthropic"
}

// Generate produces the next assistant turn.
func (g *AnthropicGenerator) Generate(ctx context.Context, turns []session.Turn, opts GenerateOptions) (string, error) {
	start := time.Now()

	// System turns go in the request's System field, not Messages.
	var systemBlocks []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(turns))

	for _, turn := range turns {
		switch turn.Role {
		case session.RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: turn.Content})
		case session.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Content),
			))
		case session.RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(turn.Content),
				},
			})
		}
	}

	maxTokens := g.config.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.config.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(systemBlocks) > 0 {
		reqParams.System = systemBlocks
	}

	temperature := g.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		reqParams.Temperature = anthropic.Float(temperature)
	}

	response, err := g.client.Messages.New(ctx, reqParams)
	observability.RecordUpstreamRequest(g.Provider(), "generate", time.Since(start), err == nil)
	if err != nil {
		return "", wrapAnthropicError(g.Provider(), "generate", err)
	}

	content := ""
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		}
	}

	if content == "" {
		return "", &Error{Provider: g.Provider(), Op: "generate", Err: ErrEmptyReply}
	}

	return content, nil
}

func wrapAnthropicError(provider, op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, op, apiErr.StatusCode, err)
	}
	return &Error{Provider: provider, Op: op, Err: err, Retryable: isTransient(err)}
}
