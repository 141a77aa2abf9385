package protocol

// Type discriminates messages on the wire. Every frame carries a
// "type" field; the remaining fields depend on it.
type Type string

// Client to server message types.
const (
	TypeStartSession Type = "start_session"
	TypeAudioChunk   Type = "audio_chunk"
	TypeAudioEnd     Type = "audio_end"
	TypeEndSession   Type = "end_session"
)

// Server to client message types.
const (
	TypeSessionStarted   Type = "session_started"
	TypeTranscription    Type = "transcription"
	TypeResponseText     Type = "response_text"
	TypeAudioStreamStart Type = "audio_stream_start"
	TypeAudioStreamChunk Type = "audio_stream_chunk"
	TypeAudioStreamEnd   Type = "audio_stream_end"
	TypeAudioResponse    Type = "audio_response"
	TypeSessionEnded     Type = "session_ended"
	TypeError            Type = "error"
)

// Error codes carried by Error messages.
const (
	CodeSessionStartError    = "session_start_error"
	CodeAudioChunkError      = "audio_chunk_error"
	CodeAudioProcessingError = "audio_processing_error"
	CodeSessionEndError      = "session_end_error"
	CodeUnknownMessageType   = "unknown_message_type"
	CodeInvalidFirstMessage  = "invalid_first_message"
	CodeTransportError       = "transport_error"
)

// DefaultAudioFormat is assumed when a chunk omits its format field.
const DefaultAudioFormat = "wav"

// ClientMessage is implemented by every decoded inbound message.
type ClientMessage interface {
	// Kind returns the wire type of the message.
	Kind() Type
	// Session returns the session_id the message addressed, which may
	// be empty.
	Session() string
}

// StartSession opens a session on the connection.
type StartSession struct {
	SessionID string `json:"session_id"`
}

// AudioChunk carries one base64 encoded fragment of caller audio.
type AudioChunk struct {
	SessionID string `json:"session_id"`
	AudioData string `json:"audio_data"`
	Format    string `json:"format"`
}

// AudioEnd signals that the caller finished speaking and the buffered
// audio should be processed.
type AudioEnd struct {
	SessionID string `json:"session_id"`
}

// EndSession closes the session.
type EndSession struct {
	SessionID string `json:"session_id"`
}

// Unknown preserves a frame whose type is not part of the protocol.
type Unknown struct {
	Type      string
	SessionID string
}

func (m StartSession) Kind() Type { return TypeStartSession }
func (m AudioChunk) Kind() Type   { return TypeAudioChunk }
func (m AudioEnd) Kind() Type     { return TypeAudioEnd }
func (m EndSession) Kind() Type   { return TypeEndSession }
func (m Unknown) Kind() Type      { return Type(m.Type) }

func (m StartSession) Session() string { return m.SessionID }
func (m AudioChunk) Session() string   { return m.SessionID }
func (m AudioEnd) Session() string     { return m.SessionID }
func (m EndSession) Session() string   { return m.SessionID }
func (m Unknown) Session() string      { return m.SessionID }

// ServerMessage is implemented by every outbound message.
type ServerMessage interface {
	ServerKind() Type
}

// SessionStarted confirms that a session is active.
type SessionStarted struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// Transcription carries the recognized text of the caller's speech.
type Transcription struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ResponseText carries the generated assistant reply.
type ResponseText struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// AudioStreamStart marks the beginning of streamed reply audio.
type AudioStreamStart struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// AudioStreamChunk carries one base64 encoded fragment of reply audio.
type AudioStreamChunk struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	AudioData string `json:"audio_data"`
}

// AudioStreamEnd marks the end of streamed reply audio.
type AudioStreamEnd struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// AudioResponse carries the complete reply audio in a single frame.
// It is sent instead of the stream markers when streaming is disabled
// for the session.
type AudioResponse struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	AudioData string `json:"audio_data"`
	Format    string `json:"format"`
}

// SessionEnded confirms that the session was closed.
type SessionEnded struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// Error reports a failure to the client. Code is one of the Code
// constants; Err is a human readable description.
type Error struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Err       string `json:"error"`
	Code      string `json:"code"`
}

func (m SessionStarted) ServerKind() Type   { return TypeSessionStarted }
func (m Transcription) ServerKind() Type    { return TypeTranscription }
func (m ResponseText) ServerKind() Type     { return TypeResponseText }
func (m AudioStreamStart) ServerKind() Type { return TypeAudioStreamStart }
func (m AudioStreamChunk) ServerKind() Type { return TypeAudioStreamChunk }
func (m AudioStreamEnd) ServerKind() Type   { return TypeAudioStreamEnd }
func (m AudioResponse) ServerKind() Type    { return TypeAudioResponse }
func (m SessionEnded) ServerKind() Type     { return TypeSessionEnded }
func (m Error) ServerKind() Type            { return TypeError }

// NewSessionStarted builds a session_started message.
func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{Type: TypeSessionStarted, SessionID: sessionID}
}

// NewTranscription builds a transcription message.
func NewTranscription(sessionID, text string) Transcription {
	return Transcription{Type: TypeTranscription, SessionID: sessionID, Text: text}
}

// NewResponseText builds a response_text message.
func NewResponseText(sessionID, text string) ResponseText {
	return ResponseText{Type: TypeResponseText, SessionID: sessionID, Text: text}
}

// NewAudioStreamStart builds an audio_stream_start message.
func NewAudioStreamStart(sessionID string) AudioStreamStart {
	return AudioStreamStart{Type: TypeAudioStreamStart, SessionID: sessionID}
}

// NewAudioStreamChunk builds an audio_stream_chunk message carrying
// already base64 encoded data.
func NewAudioStreamChunk(sessionID, audioData string) AudioStreamChunk {
	return AudioStreamChunk{Type: TypeAudioStreamChunk, SessionID: sessionID, AudioData: audioData}
}

// NewAudioStreamEnd builds an audio_stream_end message.
func NewAudioStreamEnd(sessionID string) AudioStreamEnd {
	return AudioStreamEnd{Type: TypeAudioStreamEnd, SessionID: sessionID}
}

// NewAudioResponse builds an audio_response message carrying already
// base64 encoded data.
func NewAudioResponse(sessionID, audioData, format string) AudioResponse {
	return AudioResponse{Type: TypeAudioResponse, SessionID: sessionID, AudioData: audioData, Format: format}
}

// NewSessionEnded builds a session_ended message.
func NewSessionEnded(sessionID string) SessionEnded {
	return SessionEnded{Type: TypeSessionEnded, SessionID: sessionID}
}

// NewError builds an error message.
func NewError(sessionID, code, message string) Error {
	return Error{Type: TypeError, SessionID: sessionID, Err: message, Code: code}
}
