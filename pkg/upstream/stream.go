package upstream

import (
	"context"
	"sync"
)

// DefaultStreamBuffer is the chunk channel capacity. Once the consumer
// falls this far behind, the producer blocks instead of buffering.
const DefaultStreamBuffer = 8

// AudioStream carries synthesized audio from a producer goroutine to
// the connection that forwards it. The channel closing means the
// producer is done; Err distinguishes completion from failure.
type AudioStream struct {
	chunks    chan []byte
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewAudioStream creates a stream whose channel holds up to buffer
// chunks. Zero or negative buffer selects DefaultStreamBuffer.
func NewAudioStream(buffer int) *AudioStream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &AudioStream{chunks: make(chan []byte, buffer)}
}

// Chunks returns the channel the consumer ranges over.
func (s *AudioStream) Chunks() <-chan []byte {
	return s.chunks
}

// Push hands one chunk to the consumer, blocking while the channel is
// full. It returns the context error if the consumer went away.
func (s *AudioStream) Push(ctx context.Context, chunk []byte) error {
	select {
	case s.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail records err and closes the stream.
func (s *AudioStream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// Close marks the producer finished. Safe to call more than once.
func (s *AudioStream) Close() {
	s.closeOnce.Do(func() {
		close(s.chunks)
	})
}

// Err reports why the stream ended. It is meaningful once Chunks is
// closed; nil means the stream completed.
func (s *AudioStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
