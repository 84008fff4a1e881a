package runstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is a temporary in-memory history store for tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.recs[rec.RunID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.recs[strings.TrimSpace(runID)]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]Record, error) {
	s.mu.RLock()
	list := make([]Record, 0, len(s.recs))
	for _, rec := range s.recs {
		list = append(list, rec)
	}
	s.mu.RUnlock()
	return applyQuery(list, q), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
