package session

import (
	"sync"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single conversation turn.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session holds the live state of one voice conversation. The persona
// fields are snapshotted at creation, so a persona reload never
// changes a session mid-flight. Sessions exist only in memory and are
// discarded when they end.
type Session struct {
	ID          string
	CreatedAt   time.Time
	Voice       string
	StreamAudio bool
	Temperature float64
	MaxTokens   int
	History     *History
	Buffer      *Buffer
}

// History is the ordered conversation transcript for a session. It is
// safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates a history seeded with a system turn when
// systemPrompt is non-empty.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.turns = append(h.turns, Turn{Role: RoleSystem, Content: systemPrompt})
	}
	return h
}

// AppendUser records a caller turn.
func (h *History) AppendUser(content string) {
	h.append(Turn{Role: RoleUser, Content: content})
}

// AppendAssistant records a generated reply turn.
func (h *History) AppendAssistant(content string) {
	h.append(Turn{Role: RoleAssistant, Content: content})
}

func (h *History) append(turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// Snapshot returns a copy of the turns in order.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := make([]Turn, len(h.turns))
	copy(turns, h.turns)
	return turns
}

// Len returns the number of turns, including the system turn.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
