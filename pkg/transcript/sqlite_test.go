package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "transcripts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("should require a path", func(t *testing.T) {
		store, err := NewSQLiteStore("", zerolog.Nop())
		assert.Nil(t, store)
		require.Error(t, err)
	})

	t.Run("should create the database file", func(t *testing.T) {
		store := newTestStore(t)
		assert.NotNil(t, store)
	})
}

func TestSaveTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist and list turns in order", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-1", Role: "user", Content: "hello"}))
		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-1", Role: "assistant", Content: "hi"}))
		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-2", Role: "user", Content: "other"}))

		turns, err := store.ListTurns(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "user", turns[0].Role)
		assert.Equal(t, "hello", turns[0].Content)
		assert.Equal(t, "assistant", turns[1].Role)
		assert.False(t, turns[0].CreatedAt.IsZero())
	})

	t.Run("should reject turns without a session id", func(t *testing.T) {
		store := newTestStore(t)

		err := store.SaveTurn(ctx, Turn{Role: "user", Content: "hello"})
		require.Error(t, err)
	})

	t.Run("should reject turns without a role", func(t *testing.T) {
		store := newTestStore(t)

		err := store.SaveTurn(ctx, Turn{SessionID: "sess-1", Content: "hello"})
		require.Error(t, err)
	})
}

func TestListTurns(t *testing.T) {
	t.Run("should return nothing for an unknown session", func(t *testing.T) {
		store := newTestStore(t)

		turns, err := store.ListTurns(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestPruneBefore(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove only turns older than the cutoff", func(t *testing.T) {
		store := newTestStore(t)

		old := time.Now().Add(-48 * time.Hour)
		recent := time.Now()

		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-1", Role: "user", Content: "old", CreatedAt: old}))
		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-1", Role: "user", Content: "new", CreatedAt: recent}))

		removed, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, removed)

		turns, err := store.ListTurns(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "new", turns[0].Content)
	})

	t.Run("should report zero when nothing matches", func(t *testing.T) {
		store := newTestStore(t)

		removed, err := store.PruneBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestNopStore(t *testing.T) {
	t.Run("should accept everything and return nothing", func(t *testing.T) {
		var store Store = NopStore{}
		ctx := context.Background()

		require.NoError(t, store.SaveTurn(ctx, Turn{SessionID: "sess-1", Role: "user"}))

		turns, err := store.ListTurns(ctx, "sess-1")
		require.NoError(t, err)
		assert.Empty(t, turns)

		removed, err := store.PruneBefore(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, removed)

		require.NoError(t, store.Close())
	})
}
