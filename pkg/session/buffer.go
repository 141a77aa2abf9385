package session

import (
	"encoding/base64"
	"fmt"
	"sync"
)

// DefaultMaxBufferBytes caps how much decoded audio a session may
// accumulate before audio_end.
const DefaultMaxBufferBytes = 10 << 20

// Buffer accumulates decoded audio fragments between audio_end
// boundaries. Fragments are concatenated in arrival order and the
// first fragment fixes the format for the utterance.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	format   string
	maxBytes int
}

// NewBuffer creates a buffer capped at maxBytes of decoded audio.
// Zero or negative maxBytes selects DefaultMaxBufferBytes.
func NewBuffer(maxBytes int) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &Buffer{maxBytes: maxBytes}
}

// Append decodes one base64 fragment and adds it to the buffer. The
// fragment is rejected when it does not decode, when its format
// differs from the format fixed by the first fragment, or when it
// would push the buffer past its cap.
func (b *Buffer) Append(encoded, format string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("audio_data is not valid base64: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.format != "" && format != b.format {
		return fmt.Errorf("format %q does not match buffered format %q", format, b.format)
	}
	if len(b.data)+len(decoded) > b.maxBytes {
		return fmt.Errorf("audio buffer would exceed %d bytes", b.maxBytes)
	}

	if b.format == "" {
		b.format = format
	}
	b.data = append(b.data, decoded...)
	return nil
}

// Flush returns the accumulated audio and its format, then resets the
// buffer so the next utterance starts empty.
func (b *Buffer) Flush() ([]byte, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.data
	format := b.format
	b.data = nil
	b.format = ""
	return data, format
}

// Len returns the number of buffered decoded bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
