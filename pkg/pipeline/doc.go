// Package pipeline turns one finished utterance into a spoken reply:
// transcription, reply generation, synthesis, delivery.
//
// Invariants:
// - Stages run strictly in order; a stage failure ends the run with one
//   audio_processing_error and the session stays active.
// - History grows monotonically: a turn appended by a completed stage is
//   never rolled back by a later failure.
// - Reply audio flows producer to client through a bounded stream; the
//   pipeline never buffers a whole reply unless streaming is disabled
//   for the session.
// - A delivery failure aborts the run silently; nothing is sent to a
//   closed connection.
//
// Usage:
//
//	runner, _ := pipeline.NewRunner(pipeline.RunnerConfig{
//		Transcriber: stt,
//		Generator:   llm,
//		Synthesizer: tts,
//		Logger:      logger,
//	})
//	_ = runner.Run(ctx, sink, sess, audio, "wav")
package pipeline
