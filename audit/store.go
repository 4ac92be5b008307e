package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"bizchat/stream"
	"bizchat/tokens"
)

const schema = `
CREATE TABLE IF NOT EXISTS llm_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	model TEXT NOT NULL,
	full_input TEXT NOT NULL,
	full_output TEXT NOT NULL,
	input_tokens INTEGER,
	output_tokens INTEGER,
	duration_ms INTEGER,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_id ON llm_audit(session_id);
CREATE INDEX IF NOT EXISTS idx_timestamp ON llm_audit(timestamp);
`

// Entry represents one audited completion
type Entry struct {
	ID           int64
	SessionID    string
	Timestamp    time.Time
	Model        string
	FullInput    string // JSON encoded
	FullOutput   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Error        string
}

// Store writes completed exchanges to SQLite
type Store struct {
	db      *sql.DB
	counter *tokens.Counter
	logger  zerolog.Logger
}

// Open opens (creating if needed) the audit database at path
func Open(path string, counter *tokens.Counter, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("LLM audit database initialized")
	return &Store{db: db, counter: counter, logger: logger}, nil
}

// Record implements stream.Recorder. Failures are logged, never returned.
func (s *Store) Record(ctx context.Context, ex stream.Exchange) {
	inputJSON, err := json.Marshal(ex.Messages)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal input")
		inputJSON = []byte(fmt.Sprintf("Error marshaling input: %v", err))
	}

	errorStr := ""
	switch {
	case ex.Err != nil:
		errorStr = ex.Err.Error()
	case ex.UpstreamErr != nil:
		errorStr = ex.UpstreamErr.Error()
	}

	inputTokens := s.counter.CountMessages(ex.Messages)
	outputTokens := s.counter.Count(ex.Output)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_audit (
			session_id, model, full_input, full_output,
			input_tokens, output_tokens, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.SessionID, ex.Model, string(inputJSON), ex.Output,
		inputTokens, outputTokens, ex.Duration.Milliseconds(), errorStr)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", ex.SessionID).Msg("failed to log LLM interaction")
		return
	}

	id, _ := result.LastInsertId()
	s.logger.Debug().
		Int64("id", id).
		Str("session_id", ex.SessionID).
		Str("model", ex.Model).
		Int("input_tokens", inputTokens).
		Int("output_tokens", outputTokens).
		Msg("logged LLM interaction")
}

// History retrieves all interactions for a session, oldest first
func (s *Store) History(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, model, full_input, full_output,
		       input_tokens, output_tokens, duration_ms, error
		FROM llm_audit
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID, &entry.SessionID, &entry.Timestamp, &entry.Model,
			&entry.FullInput, &entry.FullOutput,
			&entry.InputTokens, &entry.OutputTokens, &durationMS, &entry.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of audited interactions
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_audit`).Scan(&n)
	return n, err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
