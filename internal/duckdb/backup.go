package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// LatestRunID returns the id of the most recently started ingest run, or ""
// when the database has never been ingested into.
func (s *Store) LatestRunID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.latestRunID(ctx)
}

func (s *Store) latestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM ingest_runs ORDER BY started_at DESC, run_id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", model.NewStorageError("latest run", err)
	}
	return id, nil
}

// WriteSnapshot checkpoints the store and copies its file to dstPath. The
// record count and latest run are read under the same write lock as the
// checkpoint, so they describe exactly what the copy holds.
func (s *Store) WriteSnapshot(dstPath string) (model.Snapshot, error) {
	snap := model.Snapshot{Path: dstPath}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return snap, fmt.Errorf("create snapshot dir: %w", err)
	}

	s.mu.Lock()
	dbPath := s.dbPath
	if dbPath == "" {
		s.mu.Unlock()
		return snap, ErrInMemoryStore
	}
	ctx, cancel := s.queryCtx()
	err := s.captureState(ctx, &snap)
	cancel()
	s.mu.Unlock()
	if err != nil {
		return snap, err
	}

	n, err := copyFile(dbPath, dstPath)
	if err != nil {
		return snap, fmt.Errorf("copy duckdb file: %w", err)
	}
	snap.Bytes = n
	return snap, nil
}

func (s *Store) captureState(ctx context.Context, snap *model.Snapshot) error {
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return model.NewStorageError("checkpoint", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM slow_queries").Scan(&snap.Records); err != nil {
		return model.NewStorageError("snapshot count", err)
	}
	id, err := s.latestRunID(ctx)
	if err != nil {
		return err
	}
	snap.RunID = id
	return nil
}

// copyFile writes src to dst through a temporary sibling and returns the
// number of bytes copied.
func copyFile(srcPath, dstPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, dstPath)
}

// RemoveDatabase deletes the DuckDB file at path and its write-ahead log so
// the next NewStore starts empty. A missing file is not an error.
func RemoveDatabase(path string) error {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, path + ".wal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return model.NewStorageError("reset", err)
		}
	}
	return nil
}
