// Package upstream wraps the hosted speech and language services the
// pipeline depends on behind narrow interfaces.
//
// Invariants:
// - Every provider failure is wrapped in *Error with a retryability
//   verdict, so callers never inspect provider SDK types.
// - Synthesized audio is delivered through a bounded stream; the
//   producer blocks instead of buffering an entire reply.
//
// Usage:
//
//	client, _ := upstream.NewOpenAIClient(upstream.OpenAIConfig{APIKey: "sk-..."})
//	text, _ := client.Transcribe(ctx, audio, "wav")
//	_ = text
package upstream
