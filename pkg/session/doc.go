// Package session models the per-connection voice session: its state
// machine, conversation history, and audio buffering.
//
// Invariants:
// - A connection owns at most one session, created by start_session.
// - State transitions are pure; side effects are returned as values
//   and interpreted by the transport.
// - Audio fragments are concatenated in arrival order and consumed
//   exactly once per audio_end.
//
// Usage:
//
//	st := session.NewState()
//	st, effects := session.Step(st, protocol.StartSession{SessionID: "s1"})
//	for _, effect := range effects {
//		_ = effect // interpret
//	}
//	_ = st
package session
