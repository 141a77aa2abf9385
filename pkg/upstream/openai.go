package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/pkg/session"
)

// synthesisChunkBytes is how much audio each stream chunk carries.
const synthesisChunkBytes = 4096

// OpenAIConfig configures the OpenAI backed client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	STTModel  string
	ChatModel string
	TTSModel  string
	// Temperature and MaxTokens apply when the caller passes no
	// per-session values.
	Temperature float64
	MaxTokens   int
}

// OpenAIClient implements Transcriber, Generator and Synthesizer
// against the OpenAI API.
type OpenAIClient struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.STTModel == "" {
		config.STTModel = string(openai.AudioModelWhisper1)
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.TTSModel == "" {
		config.TTSModel = string(openai.SpeechModelTTS1)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	// Retries are handled by Retry so the SDK must not stack its own.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		config: config,
	}, nil
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Transcribe recognizes one utterance with the speech to text model.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	start := time.Now()

	transcription, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.config.STTModel),
		File:  openai.File(bytes.NewReader(audio), "audio."+format, audioContentType(format)),
	})
	observability.RecordUpstreamRequest(c.Provider(), "transcribe", time.Since(start), err == nil)
	if err != nil {
		return "", wrapOpenAIError(c.Provider(), "transcribe", err)
	}

	return transcription.Text, nil
}

// Generate produces the next assistant turn.
func (c *OpenAIClient) Generate(ctx context.Context, turns []session.Turn, opts GenerateOptions) (string, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.config.ChatModel),
		Messages: chatMessages(turns),
	}
	if maxTokens := c.maxTokens(opts); maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature := c.temperature(opts); temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	observability.RecordUpstreamRequest(c.Provider(), "generate", time.Since(start), err == nil)
	if err != nil {
		return "", wrapOpenAIError(c.Provider(), "generate", err)
	}

	if len(response.Choices) == 0 {
		return "", &Error{Provider: c.Provider(), Op: "generate", Err: ErrEmptyReply}
	}

	return response.Choices[0].Message.Content, nil
}

// Synthesize starts speech synthesis. The response body is pumped into
// the returned stream by a goroutine so the caller paces consumption.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice string) (*AudioStream, error) {
	start := time.Now()

	response, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.config.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		observability.RecordUpstreamRequest(c.Provider(), "synthesize", time.Since(start), false)
		return nil, wrapOpenAIError(c.Provider(), "synthesize", err)
	}

	stream := NewAudioStream(0)
	go func() {
		defer response.Body.Close()

		buf := make([]byte, synthesisChunkBytes)
		for {
			n, readErr := response.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if pushErr := stream.Push(ctx, chunk); pushErr != nil {
					observability.RecordUpstreamRequest(c.Provider(), "synthesize", time.Since(start), false)
					stream.Fail(pushErr)
					return
				}
			}
			if readErr == io.EOF {
				observability.RecordUpstreamRequest(c.Provider(), "synthesize", time.Since(start), true)
				stream.Close()
				return
			}
			if readErr != nil {
				observability.RecordUpstreamRequest(c.Provider(), "synthesize", time.Since(start), false)
				stream.Fail(wrapOpenAIError(c.Provider(), "synthesize", readErr))
				return
			}
		}
	}()

	return stream, nil
}

// Format names the synthesized audio container.
func (c *OpenAIClient) Format() string {
	return "pcm"
}

func (c *OpenAIClient) maxTokens(opts GenerateOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

func (c *OpenAIClient) temperature(opts GenerateOptions) float64 {
	if opts.Temperature > 0 {
		return opts.Temperature
	}
	return c.config.Temperature
}

// chatMessages converts history turns to the chat completion format.
func chatMessages(turns []session.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case session.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	return messages
}

func audioContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/" + format
	}
}

func wrapOpenAIError(provider, op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, op, apiErr.StatusCode, err)
	}
	return &Error{Provider: provider, Op: op, Err: err, Retryable: isTransient(err)}
}
