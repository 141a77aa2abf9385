package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unstuckgg/voicegate/internal/observability"
)

// CreateOptions fixes the session's behavior at creation time. The
// values come from server configuration and the active persona, never
// from the client.
type CreateOptions struct {
	SystemPrompt   string
	Voice          string
	StreamAudio    bool
	Temperature    float64
	MaxTokens      int
	MaxBufferBytes int
}

// Registry tracks active sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session under id. Creating an id that already
// exists returns the existing session unchanged, so a duplicate
// start_session cannot clear history or buffered audio.
func (r *Registry) Create(id string, opts CreateOptions) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.sessions[id]; exists {
		log.Debug().Str("session_id", id).Msg("Session already exists")
		return existing, nil
	}

	sess := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		Voice:       opts.Voice,
		StreamAudio: opts.StreamAudio,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		History:     NewHistory(opts.SystemPrompt),
		Buffer:      NewBuffer(opts.MaxBufferBytes),
	}
	r.sessions[id] = sess

	observability.SetActiveSessions(len(r.sessions))
	log.Info().Str("session_id", id).Str("voice", opts.Voice).Msg("Session created")

	return sess, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[id]
	return sess, exists
}

// Remove unregisters the session and discards its live state. Removing
// an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return
	}
	delete(r.sessions, id)

	observability.SetActiveSessions(len(r.sessions))
	log.Info().Str("session_id", id).Msg("Session removed")
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
