package errlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scour-dev/scour/internal/session"
)

func TestRecordWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	w.Record("sess-1", session.ErrorRecord{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Component: "backend:openai",
		ErrorType: "RateLimited",
		Message:   "rate limited, retry after 30s",
	})

	records, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Component != "backend:openai" || records[0].ErrorType != "RateLimited" {
		t.Errorf("record = %+v", records[0])
	}

	human, err := os.ReadFile(filepath.Join(dir, humanName))
	if err != nil {
		t.Fatalf("read human log: %v", err)
	}
	if !strings.Contains(string(human), "backend:openai") || !strings.Contains(string(human), "sess-1") {
		t.Errorf("human mirror missing fields: %s", human)
	}
}

func TestConcurrentRecordsNeverInterleave(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Record("sess", session.ErrorRecord{
					Timestamp: time.Now(),
					Component: "web",
					ErrorType: "Timeout",
					Message:   strings.Repeat("x", 200),
				})
			}
		}()
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Every line must parse back; a torn write would fail to unmarshal and
	// be dropped by Read.
	records, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 400 {
		t.Errorf("got %d records, want 400", len(records))
	}
}

func TestReadMissingDir(t *testing.T) {
	records, err := Read(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %d", len(records))
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	w.Record("s", session.ErrorRecord{Timestamp: time.Now(), Component: "web", ErrorType: "Timeout"})
	w.Close()

	if err := Clear(dir); err != nil {
		t.Fatalf("clear: %v", err)
	}
	records, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records after clear, got %d", len(records))
	}
}
