package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/pkg/protocol"
	"github.com/unstuckgg/voicegate/pkg/session"
)

// outboundBuffer is the depth of the per connection send queue. When
// it fills, senders block until the writer catches up.
const outboundBuffer = 16

// envelopeHeadroom is the read limit allowance for the JSON envelope
// around a maximally sized base64 audio fragment.
const envelopeHeadroom = 512

// conn is one live WebSocket connection plus the protocol state bound
// to it. The read loop is the only goroutine that mutates state and
// the only producer on outbound; the write loop is the only goroutine
// that writes data frames.
type conn struct {
	id           string
	ws           *websocket.Conn
	server       *Server
	state        session.State
	limiter      *MessageLimiter
	outbound     chan protocol.ServerMessage
	ctx          context.Context
	cancel       context.CancelFunc
	writerDone   chan struct{}
	closeOnce    sync.Once
	lastActivity time.Time
	logger       zerolog.Logger
}

// Send queues one message for delivery. It blocks while the outbound
// queue is full and fails once the connection is gone.
func (c *conn) Send(msg protocol.ServerMessage) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection %s is closed", c.id)
	}
}

// run services the connection until it closes, then releases
// everything it owns.
func (c *conn) run() {
	go c.writeLoop()
	c.readLoop()
	c.teardown()
}

func (c *conn) readLoop() {
	limit := int64(c.server.maxChunkBytes)*4/3 + envelopeHeadroom
	c.ws.SetReadLimit(limit)

	pongWait := 2 * c.server.pingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Connection read failed")
			}
			return
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.server.conns.Touch(c.id)

		if closing := c.handleFrame(data); closing {
			return
		}
	}
}

// handleFrame processes one inbound frame and reports whether the
// connection should close. Frames are handled to completion, pipeline
// run included, before the read loop picks up the next one.
func (c *conn) handleFrame(data []byte) bool {
	if !c.limiter.Allow() {
		observability.RecordProtocolError(protocol.CodeTransportError)
		c.logger.Warn().Msg("Message rate limit exceeded")
		_ = c.Send(protocol.NewError(c.state.SessionID, protocol.CodeTransportError, "message rate limit exceeded"))
		return true
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if c.state.Phase == session.PhaseUninitialized {
			c.state.Phase = session.PhaseClosed
			observability.RecordProtocolError(protocol.CodeInvalidFirstMessage)
			_ = c.Send(protocol.NewError("", protocol.CodeInvalidFirstMessage, "first message must be start_session"))
			return true
		}
		observability.RecordProtocolError(protocol.CodeTransportError)
		_ = c.Send(protocol.NewError(c.state.SessionID, protocol.CodeTransportError, err.Error()))
		return false
	}

	observability.RecordMessage(string(msg.Kind()))

	next, effects := session.Step(c.state, msg)
	c.state = next
	return c.apply(effects)
}

// apply interprets the effects of one transition in order. It reports
// whether the connection should close.
func (c *conn) apply(effects []session.Effect) bool {
	closing := false
	for _, effect := range effects {
		switch e := effect.(type) {
		case session.EffectRegister:
			if !c.register(e.SessionID) {
				return false
			}

		case session.EffectSendStarted:
			if err := c.Send(protocol.NewSessionStarted(e.SessionID)); err != nil {
				return true
			}

		case session.EffectAppendAudio:
			c.appendAudio(e)

		case session.EffectRunPipeline:
			if err := c.runPipeline(e.SessionID); err != nil {
				c.logger.Warn().Err(err).Msg("Pipeline delivery failed")
				return true
			}

		case session.EffectRemove:
			c.server.sessions.Remove(e.SessionID)
			observability.RecordSessionAudit(c.ctx, "session_ended", e.SessionID, "success", nil)

		case session.EffectSendEnded:
			if err := c.Send(protocol.NewSessionEnded(e.SessionID)); err != nil {
				return true
			}

		case session.EffectSendError:
			observability.RecordProtocolError(e.Code)
			if err := c.Send(protocol.NewError(e.SessionID, e.Code, e.Message)); err != nil {
				return true
			}

		case session.EffectClose:
			closing = true
		}
	}
	return closing
}

// register creates the session with the persona active right now. A
// reload after this point does not touch the session; it keeps the
// prompt and voice captured here.
func (c *conn) register(sessionID string) bool {
	manifest := c.server.personas.Current()
	_, err := c.server.sessions.Create(sessionID, session.CreateOptions{
		SystemPrompt:   manifest.SystemPrompt,
		Voice:          manifest.Voice,
		StreamAudio:    manifest.StreamAudio,
		Temperature:    manifest.Temperature,
		MaxTokens:      manifest.MaxTokens,
		MaxBufferBytes: c.server.maxBufferBytes,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to register session")
		c.state = session.NewState()
		observability.RecordProtocolError(protocol.CodeSessionStartError)
		observability.RecordSessionAudit(c.ctx, "session_started", sessionID, "failure", map[string]interface{}{
			"error": err.Error(),
		})
		_ = c.Send(protocol.NewError(sessionID, protocol.CodeSessionStartError, "failed to register session"))
		return false
	}

	observability.RecordSessionAudit(c.ctx, "session_started", sessionID, "success", nil)
	return true
}

func (c *conn) appendAudio(e session.EffectAppendAudio) {
	sess, ok := c.server.sessions.Get(e.SessionID)
	if !ok {
		observability.RecordProtocolError(protocol.CodeAudioChunkError)
		_ = c.Send(protocol.NewError(e.SessionID, protocol.CodeAudioChunkError, "session not found"))
		return
	}

	if err := sess.Buffer.Append(e.AudioData, e.Format); err != nil {
		observability.RecordProtocolError(protocol.CodeAudioChunkError)
		_ = c.Send(protocol.NewError(e.SessionID, protocol.CodeAudioChunkError, err.Error()))
		return
	}

	observability.RecordAudioBufferBytes(sess.Buffer.Len())
}

func (c *conn) runPipeline(sessionID string) error {
	sess, ok := c.server.sessions.Get(sessionID)
	if !ok {
		observability.RecordProtocolError(protocol.CodeAudioProcessingError)
		return c.Send(protocol.NewError(sessionID, protocol.CodeAudioProcessingError, "session not found"))
	}

	audio, format := sess.Buffer.Flush()
	return c.server.runner.Run(c.ctx, c, sess, audio, format)
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.server.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				// Queue drained after close; say goodbye properly
				deadline := time.Now().Add(c.server.writeTimeout)
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}

			data, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error().Err(err).Msg("Failed to encode message")
				continue
			}

			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Connection write failed")
				c.cancel()
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				_ = c.ws.Close()
				return
			}
		}
	}
}

// teardown runs once the read loop is done. Closing the outbound
// channel is safe here: the read loop is the only producer and it has
// exited. An active session is removed without confirmation; the
// client is gone or leaving.
func (c *conn) teardown() {
	close(c.outbound)
	<-c.writerDone
	c.cancel()
	_ = c.ws.Close()

	if c.state.Phase == session.PhaseActive {
		c.server.sessions.Remove(c.state.SessionID)
		observability.RecordSessionAudit(c.ctx, "session_abandoned", c.state.SessionID, "success", nil)
	}

	c.server.conns.Remove(c.id)
	observability.SetActiveConnections(c.server.conns.Count())
	c.logger.Info().Msg("Connection closed")
}

// shutdown closes the connection from outside its read loop. The
// close frame is a control message, which gorilla allows concurrently
// with the writer goroutine. The read loop notices the closed socket
// and tears down as if the client disconnected.
func (c *conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.server.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.cancel()
		_ = c.ws.Close()
	})
}
