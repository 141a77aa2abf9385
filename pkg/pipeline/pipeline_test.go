package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unstuckgg/voicegate/pkg/protocol"
	"github.com/unstuckgg/voicegate/pkg/session"
	"github.com/unstuckgg/voicegate/pkg/transcript"
	"github.com/unstuckgg/voicegate/pkg/upstream"
)

type stubTranscriber struct {
	text  string
	err   error
	calls int
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	s.calls++
	return s.text, s.err
}

type flakyTranscriber struct {
	failures int
	calls    int
	text     string
}

func (f *flakyTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", &upstream.Error{Provider: "stub", Op: "transcribe", Err: errors.New("upstream hiccup"), Retryable: true}
	}
	return f.text, nil
}

type stubGenerator struct {
	reply    string
	err      error
	calls    int
	gotTurns []session.Turn
	gotOpts  upstream.GenerateOptions
}

func (s *stubGenerator) Generate(_ context.Context, turns []session.Turn, opts upstream.GenerateOptions) (string, error) {
	s.calls++
	s.gotTurns = turns
	s.gotOpts = opts
	return s.reply, s.err
}

func (s *stubGenerator) Provider() string { return "stub" }

type stubSynthesizer struct {
	chunks    [][]byte
	initErr   error
	streamErr error
	gotText   string
	gotVoice  string
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text, voice string) (*upstream.AudioStream, error) {
	s.gotText = text
	s.gotVoice = voice
	if s.initErr != nil {
		return nil, s.initErr
	}

	stream := upstream.NewAudioStream(len(s.chunks) + 1)
	go func() {
		for _, chunk := range s.chunks {
			if err := stream.Push(ctx, chunk); err != nil {
				return
			}
		}
		if s.streamErr != nil {
			stream.Fail(s.streamErr)
			return
		}
		stream.Close()
	}()
	return stream, nil
}

func (s *stubSynthesizer) Format() string { return "pcm" }

type stubStore struct {
	transcript.NopStore
	mu    sync.Mutex
	err   error
	saved []transcript.Turn
}

func (s *stubStore) SaveTurn(_ context.Context, turn transcript.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, turn)
	return nil
}

func (s *stubStore) turns() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Turn, len(s.saved))
	copy(out, s.saved)
	return out
}

// recordingSink captures delivered messages, optionally failing on one
// message kind to simulate a closed connection.
type recordingSink struct {
	mu       sync.Mutex
	failKind protocol.Type
	messages []protocol.ServerMessage
}

func (s *recordingSink) Send(msg protocol.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKind != "" && msg.ServerKind() == s.failKind {
		return errors.New("connection closed")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) kinds() []protocol.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Type, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg.ServerKind())
	}
	return out
}

func (s *recordingSink) message(i int) protocol.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[i]
}

func testSession(streamAudio bool) *session.Session {
	return &session.Session{
		ID:          "sess-1",
		CreatedAt:   time.Now(),
		Voice:       "alloy",
		StreamAudio: streamAudio,
		Temperature: 0.7,
		MaxTokens:   256,
		History:     session.NewHistory("Be brief."),
		Buffer:      session.NewBuffer(0),
	}
}

func testRunner(t *testing.T, config RunnerConfig) *Runner {
	t.Helper()

	if config.Retry.MaxAttempts == 0 {
		config.Retry = upstream.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}
	}
	config.Logger = zerolog.Nop()

	runner, err := NewRunner(config)
	require.NoError(t, err)
	return runner
}

func TestNewRunner(t *testing.T) {
	t.Run("should require all three capabilities", func(t *testing.T) {
		_, err := NewRunner(RunnerConfig{Generator: &stubGenerator{}, Synthesizer: &stubSynthesizer{}})
		assert.ErrorContains(t, err, "transcriber is required")

		_, err = NewRunner(RunnerConfig{Transcriber: &stubTranscriber{}, Synthesizer: &stubSynthesizer{}})
		assert.ErrorContains(t, err, "generator is required")

		_, err = NewRunner(RunnerConfig{Transcriber: &stubTranscriber{}, Generator: &stubGenerator{}})
		assert.ErrorContains(t, err, "synthesizer is required")
	})
}

func TestRunnerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should run all stages in order when streaming", func(t *testing.T) {
		transcriber := &stubTranscriber{text: "hello there"}
		generator := &stubGenerator{reply: "hi, what do you need?"}
		synthesizer := &stubSynthesizer{chunks: [][]byte{{1, 2, 3}, {4, 5}, {6}}}
		store := &stubStore{}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: transcriber,
			Generator:   generator,
			Synthesizer: synthesizer,
			Store:       store,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, []protocol.Type{
			protocol.TypeTranscription,
			protocol.TypeResponseText,
			protocol.TypeAudioStreamStart,
			protocol.TypeAudioStreamChunk,
			protocol.TypeAudioStreamChunk,
			protocol.TypeAudioStreamChunk,
			protocol.TypeAudioStreamEnd,
		}, sink.kinds())

		transcription := sink.message(0).(protocol.Transcription)
		assert.Equal(t, "hello there", transcription.Text)
		assert.Equal(t, "sess-1", transcription.SessionID)

		response := sink.message(1).(protocol.ResponseText)
		assert.Equal(t, "hi, what do you need?", response.Text)

		for i, want := range synthesizer.chunks {
			chunk := sink.message(3 + i).(protocol.AudioStreamChunk)
			decoded, err := base64.StdEncoding.DecodeString(chunk.AudioData)
			require.NoError(t, err)
			assert.Equal(t, want, decoded)
		}

		turns := sess.History.Snapshot()
		require.Len(t, turns, 3)
		assert.Equal(t, session.RoleUser, turns[1].Role)
		assert.Equal(t, "hello there", turns[1].Content)
		assert.Equal(t, session.RoleAssistant, turns[2].Role)

		saved := store.turns()
		require.Len(t, saved, 2)
		assert.Equal(t, "user", saved[0].Role)
		assert.Equal(t, "assistant", saved[1].Role)
	})

	t.Run("should pass session settings to the generator and synthesizer", func(t *testing.T) {
		generator := &stubGenerator{reply: "ok"}
		synthesizer := &stubSynthesizer{chunks: [][]byte{{9}}}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "ping"},
			Generator:   generator,
			Synthesizer: synthesizer,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, 0.7, generator.gotOpts.Temperature)
		assert.Equal(t, 256, generator.gotOpts.MaxTokens)
		require.Len(t, generator.gotTurns, 2)
		assert.Equal(t, session.RoleSystem, generator.gotTurns[0].Role)
		assert.Equal(t, "ping", generator.gotTurns[1].Content)

		assert.Equal(t, "alloy", synthesizer.gotVoice)
		assert.Equal(t, "ok", synthesizer.gotText)
	})

	t.Run("should deliver one audio_response when streaming is off", func(t *testing.T) {
		synthesizer := &stubSynthesizer{chunks: [][]byte{{1, 2}, {3, 4}}}
		sink := &recordingSink{}
		sess := testSession(false)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   &stubGenerator{reply: "hi"},
			Synthesizer: synthesizer,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, []protocol.Type{
			protocol.TypeTranscription,
			protocol.TypeResponseText,
			protocol.TypeAudioResponse,
		}, sink.kinds())

		response := sink.message(2).(protocol.AudioResponse)
		decoded, err := base64.StdEncoding.DecodeString(response.AudioData)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4}, decoded)
		assert.Equal(t, "pcm", response.Format)
	})

	t.Run("should report an empty utterance without calling upstream", func(t *testing.T) {
		transcriber := &stubTranscriber{text: "never"}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: transcriber,
			Generator:   &stubGenerator{},
			Synthesizer: &stubSynthesizer{},
		})

		require.NoError(t, runner.Run(ctx, sink, sess, nil, "wav"))

		require.Equal(t, []protocol.Type{protocol.TypeError}, sink.kinds())
		errMsg := sink.message(0).(protocol.Error)
		assert.Equal(t, protocol.CodeAudioProcessingError, errMsg.Code)
		assert.Equal(t, "no audio data", errMsg.Err)
		assert.Zero(t, transcriber.calls)
	})

	t.Run("should abort when transcription fails", func(t *testing.T) {
		transcriber := &stubTranscriber{err: errors.New("bad audio")}
		generator := &stubGenerator{reply: "never"}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: transcriber,
			Generator:   generator,
			Synthesizer: &stubSynthesizer{},
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		require.Equal(t, []protocol.Type{protocol.TypeError}, sink.kinds())
		errMsg := sink.message(0).(protocol.Error)
		assert.Equal(t, protocol.CodeAudioProcessingError, errMsg.Code)
		assert.Equal(t, "failed to transcribe audio", errMsg.Err)

		// Terminal failures are not retried
		assert.Equal(t, 1, transcriber.calls)
		assert.Zero(t, generator.calls)
		assert.Equal(t, 1, sess.History.Len())
	})

	t.Run("should keep the user turn when generation fails", func(t *testing.T) {
		store := &stubStore{}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   &stubGenerator{err: errors.New("model down")},
			Synthesizer: &stubSynthesizer{},
			Store:       store,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, []protocol.Type{
			protocol.TypeTranscription,
			protocol.TypeError,
		}, sink.kinds())

		turns := sess.History.Snapshot()
		require.Len(t, turns, 2)
		assert.Equal(t, session.RoleUser, turns[1].Role)
		assert.Len(t, store.turns(), 1)
	})

	t.Run("should report a mid-stream synthesis failure", func(t *testing.T) {
		synthesizer := &stubSynthesizer{
			chunks:    [][]byte{{1}, {2}},
			streamErr: errors.New("stream cut"),
		}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   &stubGenerator{reply: "hi"},
			Synthesizer: synthesizer,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, []protocol.Type{
			protocol.TypeTranscription,
			protocol.TypeResponseText,
			protocol.TypeAudioStreamStart,
			protocol.TypeAudioStreamChunk,
			protocol.TypeAudioStreamChunk,
			protocol.TypeError,
		}, sink.kinds())

		// Both turns stay committed
		assert.Equal(t, 3, sess.History.Len())
	})

	t.Run("should report a synthesis initiation failure after the stream start", func(t *testing.T) {
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   &stubGenerator{reply: "hi"},
			Synthesizer: &stubSynthesizer{initErr: errors.New("voice service down")},
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, []protocol.Type{
			protocol.TypeTranscription,
			protocol.TypeResponseText,
			protocol.TypeAudioStreamStart,
			protocol.TypeError,
		}, sink.kinds())
	})

	t.Run("should stop silently when delivery fails", func(t *testing.T) {
		generator := &stubGenerator{reply: "never"}
		sink := &recordingSink{failKind: protocol.TypeTranscription}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   generator,
			Synthesizer: &stubSynthesizer{},
		})

		err := runner.Run(ctx, sink, sess, []byte("audio"), "wav")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to deliver transcription")
		assert.Zero(t, generator.calls)
		assert.Empty(t, sink.kinds())
	})

	t.Run("should retry a retryable transcription failure", func(t *testing.T) {
		transcriber := &flakyTranscriber{failures: 1, text: "hello"}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: transcriber,
			Generator:   &stubGenerator{reply: "hi"},
			Synthesizer: &stubSynthesizer{chunks: [][]byte{{1}}},
			Retry: upstream.RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
			},
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))

		assert.Equal(t, 2, transcriber.calls)
		assert.Contains(t, sink.kinds(), protocol.TypeTranscription)
		assert.Contains(t, sink.kinds(), protocol.TypeAudioStreamEnd)
	})

	t.Run("should keep running when the transcript store fails", func(t *testing.T) {
		store := &stubStore{err: errors.New("disk full")}
		sink := &recordingSink{}
		sess := testSession(true)

		runner := testRunner(t, RunnerConfig{
			Transcriber: &stubTranscriber{text: "hello"},
			Generator:   &stubGenerator{reply: "hi"},
			Synthesizer: &stubSynthesizer{chunks: [][]byte{{1}}},
			Store:       store,
		})

		require.NoError(t, runner.Run(ctx, sink, sess, []byte("audio"), "wav"))
		assert.Contains(t, sink.kinds(), protocol.TypeAudioStreamEnd)
	})
}
