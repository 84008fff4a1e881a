package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists one JSON document per run under a root directory.
type FileStore struct {
	root string
}

// NewFileStore constructs a file store rooted at the given directory,
// creating it when absent.
func NewFileStore(root string) (*FileStore, error) {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		return nil, errors.New("runstore: root directory required")
	}
	if err := os.MkdirAll(resolved, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{root: resolved}, nil
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	path, err := s.path(rec.RunID)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (s *FileStore) Get(ctx context.Context, runID string) (Record, error) {
	path, err := s.path(runID)
	if err != nil {
		return Record{}, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) List(ctx context.Context, q Query) ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	list := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			continue
		}
		list = append(list, rec)
	}
	return applyQuery(list, q), nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(runID string) (string, error) {
	id := strings.TrimSpace(runID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: bad run id %q", ErrInvalidRecord, runID)
	}
	return filepath.Join(s.root, id+".json"), nil
}
