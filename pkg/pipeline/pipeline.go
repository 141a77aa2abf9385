package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/internal/tracing"
	"github.com/unstuckgg/voicegate/pkg/protocol"
	"github.com/unstuckgg/voicegate/pkg/session"
	"github.com/unstuckgg/voicegate/pkg/transcript"
	"github.com/unstuckgg/voicegate/pkg/upstream"
)

// Sink delivers server messages to one client connection. Send blocks
// for backpressure and fails once the connection is closed.
type Sink interface {
	Send(msg protocol.ServerMessage) error
}

// RunnerConfig holds the collaborators of a pipeline runner.
type RunnerConfig struct {
	Transcriber upstream.Transcriber
	Generator   upstream.Generator
	Synthesizer upstream.Synthesizer

	// Store receives committed turns. Nil selects the nop store.
	Store transcript.Store

	Retry  upstream.RetryConfig
	Logger zerolog.Logger
}

// Runner executes the utterance pipeline. One runner is shared by all
// connections; per run state lives on the stack.
type Runner struct {
	transcriber upstream.Transcriber
	generator   upstream.Generator
	synthesizer upstream.Synthesizer
	store       transcript.Store
	retry       upstream.RetryConfig
	logger      zerolog.Logger
}

// NewRunner creates a new pipeline runner
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if config.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if config.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if config.Store == nil {
		config.Store = transcript.NopStore{}
	}

	observability.EnsureRegistered()

	return &Runner{
		transcriber: config.Transcriber,
		generator:   config.Generator,
		synthesizer: config.Synthesizer,
		store:       config.Store,
		retry:       config.Retry,
		logger:      config.Logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run processes one finished utterance end to end. Stage failures are
// reported to the client as audio_processing_error and end the run; the
// returned error is non-nil only when delivery itself failed or the run
// context ended.
func (r *Runner) Run(ctx context.Context, sink Sink, sess *session.Session, audio []byte, format string) error {
	if len(audio) == 0 {
		r.logger.Debug().Str("session_id", sess.ID).Msg("Audio end with empty buffer")
		return r.sendError(sink, sess.ID, "no audio data")
	}

	ctx = tracing.NewRunContext(ctx, sess.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"voicegate.pipeline",
		"pipeline.run",
		attribute.Int("audio_bytes", len(audio)),
		attribute.String("format", format),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)

	start := time.Now()
	success := false
	defer func() {
		observability.RecordPipelineRun(time.Since(start), success)
	}()

	logger.Info().
		Int("audio_bytes", len(audio)).
		Str("format", format).
		Msg("Pipeline run started")

	// Stage 1: transcription
	text, err := r.transcribe(ctx, logger, audio, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("Transcription failed")
		return r.sendError(sink, sess.ID, "failed to transcribe audio")
	}

	sess.History.AppendUser(text)
	r.offerTurn(ctx, logger, sess.ID, session.RoleUser, text)
	if err := sink.Send(protocol.NewTranscription(sess.ID, text)); err != nil {
		return fmt.Errorf("failed to deliver transcription: %w", err)
	}

	// Stage 2: reply generation
	reply, err := r.generate(ctx, logger, sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("Reply generation failed")
		return r.sendError(sink, sess.ID, "failed to generate response")
	}

	sess.History.AppendAssistant(reply)
	r.offerTurn(ctx, logger, sess.ID, session.RoleAssistant, reply)
	if err := sink.Send(protocol.NewResponseText(sess.ID, reply)); err != nil {
		return fmt.Errorf("failed to deliver response text: %w", err)
	}

	// Stages 3 and 4: synthesis and delivery
	if sess.StreamAudio {
		err = r.streamReply(ctx, span, logger, sink, sess, reply)
	} else {
		err = r.respondReply(ctx, span, logger, sink, sess, reply)
	}
	if err != nil {
		return err
	}

	success = true
	logger.Info().
		Dur("duration", time.Since(start)).
		Int("history_turns", sess.History.Len()).
		Msg("Pipeline run finished")
	return nil
}

// streamReply announces the audio stream and forwards synthesized
// fragments in production order.
func (r *Runner) streamReply(ctx context.Context, span trace.Span, logger zerolog.Logger, sink Sink, sess *session.Session, reply string) error {
	if err := sink.Send(protocol.NewAudioStreamStart(sess.ID)); err != nil {
		return fmt.Errorf("failed to deliver stream start: %w", err)
	}

	stream, err := r.synthesize(ctx, logger, sess.Voice, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("Synthesis failed")
		return r.sendError(sink, sess.ID, "failed to synthesize audio")
	}

	streamStart := time.Now()
	chunks := 0
	for chunk := range stream.Chunks() {
		encoded := base64.StdEncoding.EncodeToString(chunk)
		if err := sink.Send(protocol.NewAudioStreamChunk(sess.ID, encoded)); err != nil {
			return fmt.Errorf("failed to deliver audio chunk: %w", err)
		}
		chunks++
	}
	observability.RecordStageDuration("streaming", time.Since(streamStart))
	observability.RecordStreamChunks(chunks)

	if streamErr := stream.Err(); streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(streamErr).Int("chunks", chunks).Msg("Synthesis stream failed")
		return r.sendError(sink, sess.ID, "failed to synthesize audio")
	}

	if err := sink.Send(protocol.NewAudioStreamEnd(sess.ID)); err != nil {
		return fmt.Errorf("failed to deliver stream end: %w", err)
	}

	logger.Debug().Int("chunks", chunks).Msg("Audio stream finished")
	return nil
}

// respondReply assembles the complete synthesized payload and delivers
// it in a single audio_response frame. Used when streaming is disabled
// for the session.
func (r *Runner) respondReply(ctx context.Context, span trace.Span, logger zerolog.Logger, sink Sink, sess *session.Session, reply string) error {
	stream, err := r.synthesize(ctx, logger, sess.Voice, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("Synthesis failed")
		return r.sendError(sink, sess.ID, "failed to synthesize audio")
	}

	assembleStart := time.Now()
	var payload []byte
	for chunk := range stream.Chunks() {
		payload = append(payload, chunk...)
	}
	observability.RecordStageDuration("streaming", time.Since(assembleStart))

	if streamErr := stream.Err(); streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(streamErr).Msg("Synthesis stream failed")
		return r.sendError(sink, sess.ID, "failed to synthesize audio")
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	if err := sink.Send(protocol.NewAudioResponse(sess.ID, encoded, r.synthesizer.Format())); err != nil {
		return fmt.Errorf("failed to deliver audio response: %w", err)
	}

	logger.Debug().Int("audio_bytes", len(payload)).Msg("Audio response delivered")
	return nil
}

// transcribe runs the speech to text stage.
func (r *Runner) transcribe(ctx context.Context, logger zerolog.Logger, audio []byte, format string) (string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"voicegate.pipeline",
		"pipeline.transcribe",
		attribute.Int("audio_bytes", len(audio)),
	)
	defer span.End()

	start := time.Now()
	text, err := upstream.Retry(ctx, "transcribe", r.retry, logger, func() (string, error) {
		return r.transcriber.Transcribe(ctx, audio, format)
	})
	observability.RecordStageDuration("transcription", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	logger.Debug().Int("text_length", len(text)).Msg("Transcription finished")
	return text, nil
}

// generate runs the reply generation stage over the full history.
func (r *Runner) generate(ctx context.Context, logger zerolog.Logger, sess *session.Session) (string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"voicegate.pipeline",
		"pipeline.generate",
		attribute.String("provider", r.generator.Provider()),
		attribute.Int("history_turns", sess.History.Len()),
	)
	defer span.End()

	opts := upstream.GenerateOptions{
		Temperature: sess.Temperature,
		MaxTokens:   sess.MaxTokens,
	}

	start := time.Now()
	reply, err := upstream.Retry(ctx, "generate", r.retry, logger, func() (string, error) {
		return r.generator.Generate(ctx, sess.History.Snapshot(), opts)
	})
	observability.RecordStageDuration("generation", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	logger.Debug().Int("text_length", len(reply)).Msg("Reply generated")
	return reply, nil
}

// synthesize starts the synthesis stage and returns the fragment stream.
func (r *Runner) synthesize(ctx context.Context, logger zerolog.Logger, voice, text string) (*upstream.AudioStream, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"voicegate.pipeline",
		"pipeline.synthesize",
		attribute.String("voice", voice),
	)
	defer span.End()

	start := time.Now()
	stream, err := upstream.Retry(ctx, "synthesize", r.retry, logger, func() (*upstream.AudioStream, error) {
		return r.synthesizer.Synthesize(ctx, text, voice)
	})
	observability.RecordStageDuration("synthesis", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return stream, nil
}

// sendError reports a failed run to the client. The session stays
// active; only the current run is abandoned.
func (r *Runner) sendError(sink Sink, sessionID, message string) error {
	observability.RecordProtocolError(protocol.CodeAudioProcessingError)
	if err := sink.Send(protocol.NewError(sessionID, protocol.CodeAudioProcessingError, message)); err != nil {
		return fmt.Errorf("failed to deliver error: %w", err)
	}
	return nil
}

// offerTurn hands a committed turn to the transcript store. Store
// failures never fail the run.
func (r *Runner) offerTurn(ctx context.Context, logger zerolog.Logger, sessionID string, role session.Role, content string) {
	turn := transcript.Turn{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.SaveTurn(ctx, turn); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist turn")
	}
}
