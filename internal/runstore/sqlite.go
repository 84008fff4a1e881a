package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	engine      TEXT NOT NULL,
	project     TEXT NOT NULL DEFAULT '',
	years       INTEGER NOT NULL,
	steps       INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_by_start ON runs (started_at);
`

// SQLiteStore persists run history in a single-file database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating when absent) the database at path and
// ensures the runs schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		return nil, errors.New("runstore: database path required")
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, engine, project, years, steps, outcome, stage, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			engine=excluded.engine, project=excluded.project,
			years=excluded.years, steps=excluded.steps,
			outcome=excluded.outcome, stage=excluded.stage,
			message=excluded.message, started_at=excluded.started_at,
			finished_at=excluded.finished_at`,
		rec.RunID, rec.Engine, rec.Project, rec.Years, rec.Steps,
		rec.Outcome, rec.Stage, rec.Message,
		encodeTime(rec.StartedAt), encodeTime(rec.FinishedAt),
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, engine, project, years, steps, outcome, stage, message, started_at, finished_at
		FROM runs WHERE run_id = ?`, strings.TrimSpace(runID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Record, error) {
	query := `
		SELECT run_id, engine, project, years, steps, outcome, stage, message, started_at, finished_at
		FROM runs`
	args := make([]any, 0, 2)
	if outcome := strings.TrimSpace(q.Outcome); outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed-width so lexicographic ORDER BY matches
// chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var started, finished string
	err := row.Scan(
		&rec.RunID, &rec.Engine, &rec.Project, &rec.Years, &rec.Steps,
		&rec.Outcome, &rec.Stage, &rec.Message, &started, &finished,
	)
	if err != nil {
		return Record{}, err
	}
	if rec.StartedAt, err = decodeTime(started); err != nil {
		return Record{}, err
	}
	if rec.FinishedAt, err = decodeTime(finished); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func decodeTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("runstore: bad timestamp %q: %w", raw, err)
	}
	return t, nil
}
