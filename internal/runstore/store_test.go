package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func sampleRecord(id string, outcome string, started time.Time) Record {
	return Record{
		RunID:      id,
		Engine:     "engine.stub",
		Project:    "projects/demo.toml",
		Years:      10,
		Steps:      11,
		Outcome:    outcome,
		Stage:      "finish",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func verifyStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	first := sampleRecord("run-a", "success", base)
	second := sampleRecord("run-b", "engine_error", base.Add(time.Minute))
	second.Stage = "configure"
	second.Message = "bad config"
	third := sampleRecord("run-c", "success", base.Add(2*time.Minute))

	for _, rec := range []Record{first, second, third} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.RunID, err)
		}
	}

	got, err := store.Get(ctx, "run-b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != "engine_error" || got.Stage != "configure" || got.Message != "bad config" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.StartedAt.Equal(second.StartedAt) {
		t.Fatalf("started_at mismatch: got=%v want=%v", got.StartedAt, second.StartedAt)
	}

	if _, err := store.Get(ctx, "run-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].RunID != "run-c" || list[2].RunID != "run-a" {
		t.Fatalf("unexpected list order: %+v", list)
	}

	filtered, err := store.List(ctx, Query{Outcome: "success", Limit: 1})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].RunID != "run-c" {
		t.Fatalf("unexpected filtered list: %+v", filtered)
	}

	if err := store.Save(ctx, Record{RunID: "bad"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testlog.Start(t)
	store := NewMemoryStore()
	defer store.Close()
	verifyStore(t, store)
}

func TestFileStore(t *testing.T) {
	testlog.Start(t)
	store, err := NewFileStore(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer store.Close()
	verifyStore(t, store)
}

func TestFileStoreRejectsPathRunIDs(t *testing.T) {
	testlog.Start(t)
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	rec := sampleRecord("../escape", "success", time.Now().UTC())
	if err := store.Save(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	testlog.Start(t)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer store.Close()
	verifyStore(t, store)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	testlog.Start(t)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := sampleRecord("run-a", "success", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Outcome = "panic"
	rec.Message = "stand index out of range"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := store.Get(ctx, "run-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != "panic" || got.Message != "stand index out of range" {
		t.Fatalf("upsert did not replace: %+v", got)
	}
	list, err := store.List(ctx, Query{})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected single row, got n=%d err=%v", len(list), err)
	}
}
