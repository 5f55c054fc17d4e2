// Package store persists finished sessions and their error records in a
// local sqlite database, backing the errors and history surfaces of the
// CLI across invocations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP,
	succeeded   TEXT NOT NULL,
	failed      TEXT NOT NULL,
	rate_limits TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS error_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp  TIMESTAMP NOT NULL,
	component  TEXT NOT NULL,
	error_type TEXT NOT NULL,
	message    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_records_session ON error_records(session_id);
`

// Store wraps the sqlite connection.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// StoredError is one persisted error record with its session.
type StoredError struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Component string    `db:"component" json:"component"`
	ErrorType string    `db:"error_type" json:"errorType"`
	Message   string    `db:"message" json:"message"`
}

// SessionRow is one persisted session summary.
type SessionRow struct {
	ID        string     `db:"id" json:"id"`
	Query     string     `db:"query" json:"query"`
	Status    string     `db:"status" json:"status"`
	StartedAt time.Time  `db:"started_at" json:"startedAt"`
	EndedAt   *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	Succeeded string     `db:"succeeded" json:"-"`
	Failed    string     `db:"failed" json:"-"`
	RateLimit string     `db:"rate_limits" json:"-"`
}

// Open creates or opens the sqlite database at path and applies the
// schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite handles one writer at a time; a second connection would just
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// SaveSession persists a finished session and all its error records.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	succeeded, err := json.Marshal(sess.Succeeded)
	if err != nil {
		return fmt.Errorf("marshal succeeded: %w", err)
	}
	failed, err := json.Marshal(sess.Failed)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	rateLimits, err := json.Marshal(sess.RateLimited)
	if err != nil {
		return fmt.Errorf("marshal rate limits: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, query, status, started_at, ended_at, succeeded, failed, rate_limits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Query, string(sess.Status), sess.StartedAt, nullableTime(sess.EndedAt),
		string(succeeded), string(failed), string(rateLimits),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, rec := range sess.ErrorLog {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO error_records (session_id, timestamp, component, error_type, message)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, rec.Timestamp, rec.Component, rec.ErrorType, rec.Message,
		)
		if err != nil {
			return fmt.Errorf("insert error record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Session persisted",
		zap.String("session_id", sess.ID),
		zap.Int("error_records", len(sess.ErrorLog)),
	)
	return nil
}

// Errors returns every persisted error record, newest first.
func (s *Store) Errors(ctx context.Context) ([]StoredError, error) {
	var out []StoredError
	err := s.db.SelectContext(ctx, &out, `
		SELECT session_id, timestamp, component, error_type, message
		FROM error_records ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("select errors: %w", err)
	}
	return out, nil
}

// ClearErrors deletes every persisted error record.
func (s *Store) ClearErrors(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM error_records`); err != nil {
		return fmt.Errorf("clear errors: %w", err)
	}
	return nil
}

// RecentSessions returns the most recent n sessions.
func (s *Store) RecentSessions(ctx context.Context, n int) ([]SessionRow, error) {
	var out []SessionRow
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, query, status, started_at, ended_at, succeeded, failed, rate_limits
		FROM sessions ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
