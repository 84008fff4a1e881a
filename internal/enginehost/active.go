package enginehost

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ActiveRun tracks one live engine session for the admin surface.
type ActiveRun struct {
	RunID      string    `json:"run_id"`
	ClientID   string    `json:"client_id"`
	EngineKind string    `json:"engine_kind"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	LastOp     string    `json:"last_op,omitempty"`
	LastOpAt   time.Time `json:"last_op_at,omitempty"`
	LastYear   uint32    `json:"last_year,omitempty"`
	Ops        uint64    `json:"ops"`
}

// RunRegistry stores active runs by stable run_id.
type RunRegistry struct {
	mu    sync.RWMutex
	items map[string]ActiveRun
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		items: make(map[string]ActiveRun),
	}
}

func (r *RunRegistry) Upsert(item ActiveRun) {
	key := strings.TrimSpace(item.RunID)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = item
}

func (r *RunRegistry) MarkOp(runID, op string, at time.Time) (ActiveRun, bool) {
	key := strings.TrimSpace(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	if !ok {
		return ActiveRun{}, false
	}
	item.Ops++
	item.LastOp = op
	item.LastOpAt = at
	r.items[key] = item
	return item, true
}

func (r *RunRegistry) MarkYear(runID string, year uint32) {
	key := strings.TrimSpace(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	if !ok {
		return
	}
	item.LastYear = year
	r.items[key] = item
}

func (r *RunRegistry) Remove(runID string) {
	key := strings.TrimSpace(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

func (r *RunRegistry) Get(runID string) (ActiveRun, bool) {
	key := strings.TrimSpace(runID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[key]
	return item, ok
}

func (r *RunRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *RunRegistry) List() []ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveRun, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RunID < out[j].RunID
	})
	return out
}
