package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/scour-dev/scour/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scour.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSession() *session.Session {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &session.Session{
		ID:          "sess-1",
		Query:       "supply chain attack",
		StartedAt:   started,
		EndedAt:     started.Add(40 * time.Second),
		Status:      session.StatusCompleted,
		Succeeded:   []string{"web", "code-host"},
		Failed:      []string{"arxiv"},
		RateLimited: map[string]int{"openai": 2},
		ErrorLog: []session.ErrorRecord{
			{Timestamp: started.Add(5 * time.Second), Component: "arxiv", ErrorType: "Timeout", Message: "deadline exceeded"},
			{Timestamp: started.Add(9 * time.Second), Component: "openai", ErrorType: "RateLimited", Message: "rate limited"},
		},
	}
}

func TestSaveAndQuerySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, sampleSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	sessions, err := s.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Query != "supply chain attack" || sessions[0].Status != "completed" {
		t.Errorf("session row = %+v", sessions[0])
	}

	recs, err := s.Errors(ctx)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d error records, want 2", len(recs))
	}
	// Newest first.
	if recs[0].Component != "openai" || recs[1].Component != "arxiv" {
		t.Errorf("order = %s, %s", recs[0].Component, recs[1].Component)
	}
}

func TestSaveSessionIsIdempotentPerID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := sampleSession()
	sess.ErrorLog = nil

	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	sess.Status = session.StatusFailed
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1 (same id replaces)", len(sessions))
	}
	if sessions[0].Status != "failed" {
		t.Errorf("status = %s, want failed", sessions[0].Status)
	}
}

func TestClearErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, sampleSession()); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearErrors(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	recs, err := s.Errors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records after clear, want 0", len(recs))
	}
}

func TestSaveSessionRollsBackOnInsertFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer mockDB.Close()
	s := NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), zaptest.NewLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR REPLACE INTO sessions").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := s.SaveSession(context.Background(), sampleSession()); err == nil {
		t.Fatal("expected save to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
