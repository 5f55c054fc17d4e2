// Package errlog appends session error records to a structured log file,
// one JSON object per line, with a plain-text mirror of the same events.
// Both writes go through one mutex so concurrent Stage-1 workers can never
// interleave partial lines.
package errlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/scour-dev/scour/internal/session"
)

const (
	jsonlName = "errors.jsonl"
	humanName = "errors.log"
)

// Writer implements session.Sink over two append-only files.
type Writer struct {
	mu    sync.Mutex
	dir   string
	jsonl io.WriteCloser
	human io.WriteCloser
}

// Open creates or appends to the error logs under dir.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	jsonl, err := os.OpenFile(filepath.Join(dir, jsonlName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", jsonlName, err)
	}
	human, err := os.OpenFile(filepath.Join(dir, humanName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		jsonl.Close()
		return nil, fmt.Errorf("open %s: %w", humanName, err)
	}
	return &Writer{dir: dir, jsonl: jsonl, human: human}, nil
}

// Record appends one error record to both files. A failed write is silently
// dropped; the in-memory session still holds the record and logging must
// never fail the pipeline.
func (w *Writer) Record(sessionID string, rec session.ErrorRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.jsonl.Write(append(line, '\n'))
	fmt.Fprintf(w.human, "%s [%s] %s: %s (session %s)\n",
		rec.Timestamp.Format("2006-01-02 15:04:05"),
		rec.ErrorType, rec.Component, rec.Message, sessionID)
}

// Close flushes and closes both files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err1 := w.jsonl.Close()
	err2 := w.human.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Read parses every record in the JSONL file under dir. A missing file
// yields no records and no error; malformed lines are skipped.
func Read(dir string) ([]session.ErrorRecord, error) {
	f, err := os.Open(filepath.Join(dir, jsonlName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", jsonlName, err)
	}
	defer f.Close()

	var records []session.ErrorRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec session.ErrorRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan %s: %w", jsonlName, err)
	}
	return records, nil
}

// Clear truncates both log files under dir. Missing files are fine.
func Clear(dir string) error {
	for _, name := range []string{jsonlName, humanName} {
		err := os.Truncate(filepath.Join(dir, name), 0)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate %s: %w", name, err)
		}
	}
	return nil
}
