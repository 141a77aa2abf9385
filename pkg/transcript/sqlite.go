package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/unstuckgg/voicegate/internal/observability"
)

// SQLiteStore persists turns in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Transcript store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
		CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveTurn records one turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn Turn) error {
	if turn.SessionID == "" {
		return errors.New("session id is required")
	}
	if turn.Role == "" {
		return errors.New("role is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		turn.SessionID, turn.Role, turn.Content, turn.CreatedAt.UnixNano(),
	)
	observability.RecordTranscriptWrite(err == nil)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}

	return nil
}

// ListTurns returns the turns of one session, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var createdAt int64
		if err := rows.Scan(&turn.SessionID, &turn.Role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	return turns, nil
}

// PruneBefore removes turns older than cutoff.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM turns WHERE created_at < ?",
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned turns: %w", err)
	}

	if removed > 0 {
		observability.RecordTranscriptPrune(removed)
		s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Transcript turns pruned")
	}

	return removed, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
