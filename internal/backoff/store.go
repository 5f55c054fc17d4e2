package backoff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists backoff state between process runs.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// FileStore keeps the backoff map in a JSON file, one object keyed by
// backend name. A missing file is not an error; it just means no state.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("read backoff state: %w", err)
	}
	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt state file should not brick the CLI. Start fresh.
		return map[string]Entry{}, nil
	}
	return entries, nil
}

func (s *FileStore) Save(_ context.Context, entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backoff state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write backoff state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace backoff state: %w", err)
	}
	return nil
}
