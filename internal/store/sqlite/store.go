// Package sqlite persists session snapshots in a local SQLite database.
// Results and messages are stored as JSON blobs so restored sessions are
// byte-for-byte faithful to what was recorded.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_results (
    session_id TEXT    NOT NULL,
    idx        INTEGER NOT NULL,
    payload    TEXT    NOT NULL,
    PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS session_messages (
    session_id TEXT    NOT NULL,
    seq        INTEGER NOT NULL,
    payload    TEXT    NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Store implements session.Persister on a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite.Store.Close: %w", err)
	}
	return nil
}

// SaveResults replaces the persisted result set for sessionID.
func (s *Store) SaveResults(ctx context.Context, sessionID string, results []*domain.QueryResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.Store.SaveResults: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_results WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite.Store.SaveResults: clear: %w", err)
	}

	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("sqlite.Store.SaveResults: encode index %d: %w", r.Index, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_results (session_id, idx, payload) VALUES (?, ?, ?)`,
			sessionID, r.Index, string(payload),
		)
		if err != nil {
			return fmt.Errorf("sqlite.Store.SaveResults: insert index %d: %w", r.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite.Store.SaveResults: commit: %w", err)
	}
	return nil
}

// SaveMessages replaces the persisted conversation for sessionID.
func (s *Store) SaveMessages(ctx context.Context, sessionID string, messages []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.Store.SaveMessages: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite.Store.SaveMessages: clear: %w", err)
	}

	for i, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("sqlite.Store.SaveMessages: encode seq %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_messages (session_id, seq, payload) VALUES (?, ?, ?)`,
			sessionID, i, string(payload),
		)
		if err != nil {
			return fmt.Errorf("sqlite.Store.SaveMessages: insert seq %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite.Store.SaveMessages: commit: %w", err)
	}
	return nil
}

// Load returns the snapshot for sessionID, or domain.ErrNotFound when the
// session was never persisted.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	results, err := s.loadResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 && len(messages) == 0 {
		return nil, fmt.Errorf("sqlite.Store.Load: session %q: %w", sessionID, domain.ErrNotFound)
	}

	return &session.Snapshot{
		SessionID: sessionID,
		Results:   results,
		Messages:  messages,
	}, nil
}

func (s *Store) loadResults(ctx context.Context, sessionID string) ([]*domain.QueryResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM session_results WHERE session_id = ? ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.Load: query results: %w", err)
	}
	defer rows.Close()

	var results []*domain.QueryResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite.Store.Load: scan result: %w", err)
		}

		var r domain.QueryResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("sqlite.Store.Load: decode result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Store.Load: results rows: %w", err)
	}

	return results, nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM session_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.Load: query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite.Store.Load: scan message: %w", err)
		}

		var m domain.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("sqlite.Store.Load: decode message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Store.Load: messages rows: %w", err)
	}

	return messages, nil
}
