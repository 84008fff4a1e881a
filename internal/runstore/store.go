package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("runstore: run not found")
	ErrInvalidRecord = errors.New("runstore: invalid record")
)

// Record is the persisted summary of one run invocation.
type Record struct {
	RunID      string    `json:"run_id"`
	Engine     string    `json:"engine"`
	Project    string    `json:"project,omitempty"`
	Years      int       `json:"years"`
	Steps      int       `json:"steps"`
	Outcome    string    `json:"outcome"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("%w: missing run_id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Engine) == "" {
		return fmt.Errorf("%w: missing engine", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Outcome) == "" {
		return fmt.Errorf("%w: missing outcome", ErrInvalidRecord)
	}
	return nil
}

// Query filters List results. The zero value returns everything, newest
// first.
type Query struct {
	Outcome string
	Limit   int
}

// Store persists run history. Save upserts by run id.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

func applyQuery(list []Record, q Query) []Record {
	outcome := strings.TrimSpace(q.Outcome)
	out := make([]Record, 0, len(list))
	for _, rec := range list {
		if outcome != "" && rec.Outcome != outcome {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
