// Package transcript persists finished conversation turns for
// retention limited offline review. Live session state never touches
// the store; only committed turns are written.
package transcript

import (
	"context"
	"time"
)

// Turn is one committed conversation turn.
type Turn struct {
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store persists committed turns. Implementations must tolerate
// concurrent writers from independent sessions.
type Store interface {
	// SaveTurn records one turn.
	SaveTurn(ctx context.Context, turn Turn) error

	// ListTurns returns the turns of one session, oldest first.
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)

	// PruneBefore removes turns older than cutoff and reports how many
	// were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the store.
	Close() error
}

// NopStore discards everything. It stands in when persistence is not
// configured.
type NopStore struct{}

func (NopStore) SaveTurn(ctx context.Context, turn Turn) error { return nil }

func (NopStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	return nil, nil
}

func (NopStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (NopStore) Close() error { return nil }
