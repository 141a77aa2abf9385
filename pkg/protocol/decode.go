package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a frame that could not be parsed at all.
// Frames that parse but carry an unrecognized type decode to Unknown
// instead, so the state machine can answer them in protocol terms.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

// Decode parses one inbound frame. The envelope is inspected first to
// learn the type, then the payload is decoded into the matching
// struct. Field level validation is left to the session state
// machine, which owns the protocol answers for bad fields.
func Decode(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if envelope.Type == "" {
		return nil, &DecodeError{Reason: "missing type field"}
	}

	switch Type(envelope.Type) {
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		return msg, nil
	case TypeAudioEnd:
		var msg AudioEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		return msg, nil
	case TypeEndSession:
		var msg EndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		return msg, nil
	default:
		return Unknown{Type: envelope.Type, SessionID: envelope.SessionID}, nil
	}
}

// Encode marshals one outbound message.
func Encode(msg ServerMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.ServerKind(), err)
	}
	return data, nil
}
