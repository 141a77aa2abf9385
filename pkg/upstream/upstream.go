package upstream

import (
	"context"

	"github.com/unstuckgg/voicegate/pkg/session"
)

// Transcriber converts caller audio to text.
type Transcriber interface {
	// Transcribe recognizes one complete utterance. Format names the
	// container of the audio bytes, e.g. "wav" or "webm".
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// GenerateOptions carries the per-session sampling settings fixed by
// the persona when the session was created.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Generator produces the assistant reply for a conversation.
type Generator interface {
	// Generate returns the next assistant turn for the given history.
	Generate(ctx context.Context, turns []session.Turn, opts GenerateOptions) (string, error)

	// Provider returns the provider name
	Provider() string
}

// Synthesizer converts reply text to audio.
type Synthesizer interface {
	// Synthesize starts speech synthesis and returns a stream of audio
	// chunks. The returned error covers initiation only; failures
	// during streaming surface through the stream itself.
	Synthesize(ctx context.Context, text, voice string) (*AudioStream, error)

	// Format names the container of the synthesized audio bytes.
	Format() string
}
