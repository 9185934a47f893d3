package duckdb

import (
	"database/sql"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// RecordRun registers the start of an ingestion run.
func (s *Store) RecordRun(run model.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (run_id, source, started_at) VALUES (?, ?, ?)`,
		run.RunID, run.Source, run.StartedAt.UTC())
	return model.NewStorageError("record run", err)
}

// FinishRun stores the final counters of an ingestion run.
func (s *Store) FinishRun(run model.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE ingest_runs
		SET finished_at = ?, lines = ?, events = ?, ingested = ?, not_slow = ?, malformed = ?
		WHERE run_id = ?`,
		run.FinishedAt.UTC(), run.Lines, run.Events, run.Ingested, run.NotSlow, run.Malformed, run.RunID)
	return model.NewStorageError("finish run", err)
}

// RecentRuns returns the latest ingestion runs, newest first.
func (s *Store) RecentRuns(limit int) ([]model.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, source, started_at, finished_at,
			lines, events, ingested, not_slow, malformed
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, model.NewStorageError("recent runs", err)
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var (
			r        model.IngestRun
			finished sql.NullTime
		)
		if err := rows.Scan(&r.RunID, &r.Source, &r.StartedAt, &finished,
			&r.Lines, &r.Events, &r.Ingested, &r.NotSlow, &r.Malformed); err != nil {
			return nil, model.NewStorageError("scan runs", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("recent runs", err)
	}
	return runs, nil
}
