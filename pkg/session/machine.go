package session

import (
	"fmt"

	"github.com/unstuckgg/voicegate/pkg/protocol"
)

// Phase is the lifecycle position of a connection's session.
type Phase int

const (
	// PhaseUninitialized means no session has been started yet. Only
	// start_session is acceptable.
	PhaseUninitialized Phase = iota
	// PhaseActive means a session is open and audio may flow.
	PhaseActive
	// PhaseClosed means the session ended or the connection was
	// rejected. No further messages are processed.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the transition function's view of a connection. It carries
// no references, so transitions can be tested without a transport.
type State struct {
	Phase     Phase
	SessionID string
}

// NewState returns the state of a fresh connection.
func NewState() State {
	return State{Phase: PhaseUninitialized}
}

// Effect is a side effect requested by a transition. The transport
// interprets effects in order; the machine itself never touches the
// registry, the buffer, or the socket.
type Effect interface {
	effect()
}

// EffectRegister creates and registers the session.
type EffectRegister struct {
	SessionID string
}

// EffectSendStarted confirms the session to the client.
type EffectSendStarted struct {
	SessionID string
}

// EffectAppendAudio adds one still-encoded fragment to the session
// buffer. Format is already defaulted.
type EffectAppendAudio struct {
	SessionID string
	AudioData string
	Format    string
}

// EffectRunPipeline flushes the buffer and processes the utterance.
type EffectRunPipeline struct {
	SessionID string
}

// EffectRemove unregisters the session and discards its state.
type EffectRemove struct {
	SessionID string
}

// EffectSendEnded confirms the session close to the client.
type EffectSendEnded struct {
	SessionID string
}

// EffectSendError reports a failure to the client.
type EffectSendError struct {
	SessionID string
	Code      string
	Message   string
}

// EffectClose closes the connection after pending sends flush.
type EffectClose struct{}

func (EffectRegister) effect()    {}
func (EffectSendStarted) effect() {}
func (EffectAppendAudio) effect() {}
func (EffectRunPipeline) effect() {}
func (EffectRemove) effect()      {}
func (EffectSendEnded) effect()   {}
func (EffectSendError) effect()   {}
func (EffectClose) effect()       {}

// Step applies one inbound message to the state and returns the next
// state plus the effects the transport must perform. Messages are
// applied strictly in arrival order, so a second audio_end is not
// observed until the run triggered by the first one finished.
func Step(st State, msg protocol.ClientMessage) (State, []Effect) {
	switch st.Phase {
	case PhaseUninitialized:
		return stepUninitialized(st, msg)
	case PhaseActive:
		return stepActive(st, msg)
	default:
		return st, nil
	}
}

func stepUninitialized(st State, msg protocol.ClientMessage) (State, []Effect) {
	start, ok := msg.(protocol.StartSession)
	if !ok {
		st.Phase = PhaseClosed
		return st, []Effect{
			EffectSendError{
				SessionID: msg.Session(),
				Code:      protocol.CodeInvalidFirstMessage,
				Message:   "first message must be start_session",
			},
			EffectClose{},
		}
	}

	if start.SessionID == "" {
		return st, []Effect{
			EffectSendError{
				Code:    protocol.CodeSessionStartError,
				Message: "session_id is required",
			},
		}
	}

	st.Phase = PhaseActive
	st.SessionID = start.SessionID
	return st, []Effect{
		EffectRegister{SessionID: start.SessionID},
		EffectSendStarted{SessionID: start.SessionID},
	}
}

func stepActive(st State, msg protocol.ClientMessage) (State, []Effect) {
	switch m := msg.(type) {
	case protocol.StartSession:
		return st, []Effect{
			EffectSendError{
				SessionID: st.SessionID,
				Code:      protocol.CodeSessionStartError,
				Message:   fmt.Sprintf("session %s is already active", st.SessionID),
			},
		}

	case protocol.AudioChunk:
		if m.SessionID != st.SessionID {
			return st, []Effect{
				EffectSendError{
					SessionID: m.SessionID,
					Code:      protocol.CodeAudioChunkError,
					Message:   "session not found",
				},
			}
		}
		if m.AudioData == "" {
			return st, []Effect{
				EffectSendError{
					SessionID: st.SessionID,
					Code:      protocol.CodeAudioChunkError,
					Message:   "audio_data is required",
				},
			}
		}
		format := m.Format
		if format == "" {
			format = protocol.DefaultAudioFormat
		}
		return st, []Effect{
			EffectAppendAudio{SessionID: st.SessionID, AudioData: m.AudioData, Format: format},
		}

	case protocol.AudioEnd:
		if m.SessionID != st.SessionID {
			return st, []Effect{
				EffectSendError{
					SessionID: m.SessionID,
					Code:      protocol.CodeAudioProcessingError,
					Message:   "session not found",
				},
			}
		}
		return st, []Effect{
			EffectRunPipeline{SessionID: st.SessionID},
		}

	case protocol.EndSession:
		if m.SessionID != st.SessionID {
			return st, []Effect{
				EffectSendError{
					SessionID: m.SessionID,
					Code:      protocol.CodeSessionEndError,
					Message:   "session not found",
				},
			}
		}
		st.Phase = PhaseClosed
		return st, []Effect{
			EffectRemove{SessionID: m.SessionID},
			EffectSendEnded{SessionID: m.SessionID},
			EffectClose{},
		}

	default:
		return st, []Effect{
			EffectSendError{
				SessionID: st.SessionID,
				Code:      protocol.CodeUnknownMessageType,
				Message:   fmt.Sprintf("unknown message type: %s", msg.Kind()),
			},
		}
	}
}
