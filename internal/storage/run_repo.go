package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"shelfindex/internal/pipeline"
)

const runsTable = "shelfindex_runs"

const createRunsTable = `CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
  run_id TEXT PRIMARY KEY,
  index_name TEXT NOT NULL,
  status TEXT NOT NULL,
  provider TEXT NOT NULL DEFAULT '',
  books_processed INTEGER NOT NULL DEFAULT 0,
  indexed INTEGER NOT NULL DEFAULT 0,
  documents_failed INTEGER NOT NULL DEFAULT 0,
  failed_stage TEXT,
  failure_kind TEXT,
  summary JSONB NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunRecord is one finished rebuild as stored in the run history table.
type RunRecord struct {
	Summary    pipeline.Summary `json:"summary"`
	FinishedAt time.Time        `json:"finished_at"`
}

// RunRepo keeps the history of rebuild runs next to the index.
type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// RecordRun upserts the summary so a retried summary write stays one row.
func (r *RunRepo) RecordRun(ctx context.Context, s pipeline.Summary) error {
	if err := r.EnsureSchema(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO `+runsTable+`(run_id, index_name, status, provider, books_processed, indexed, documents_failed, failed_stage, failure_kind, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''), $10)
ON CONFLICT (run_id) DO UPDATE SET
  status = EXCLUDED.status,
  provider = EXCLUDED.provider,
  books_processed = EXCLUDED.books_processed,
  indexed = EXCLUDED.indexed,
  documents_failed = EXCLUDED.documents_failed,
  failed_stage = EXCLUDED.failed_stage,
  failure_kind = EXCLUDED.failure_kind,
  summary = EXCLUDED.summary,
  finished_at = now()`,
		s.RunID, s.Index, s.Status, s.Provider, s.BooksProcessed, s.Indexed, s.DocumentsFailed,
		string(s.FailedStage), s.FailureKind, raw)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", s.RunID, err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (r *RunRepo) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT summary, finished_at FROM `+runsTable+` ORDER BY finished_at DESC, run_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []RunRecord{}
	for rows.Next() {
		var raw []byte
		var rec RunRecord
		if err := rows.Scan(&raw, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Summary); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
