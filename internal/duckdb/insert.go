package duckdb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// DefaultBatchSize is the number of records buffered before a flush.
const DefaultBatchSize = 2000

const insertSQL = `INSERT INTO slow_queries (
	run_id, ts, namespace, operation, duration_ms, command_text, plan_summary,
	query_hash, plan_cache_key, app_name, severity, component, ctx,
	keys_examined, docs_examined, nreturned, shape_key, shape, line_no
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// BatchWriter buffers records and writes them in batches. Unlike a
// background flusher it writes synchronously, so a storage failure is
// returned to the caller of the Add or Flush that triggered it.
type BatchWriter struct {
	writer   model.RecordWriter
	pending  []*model.SlowQueryRecord
	maxBatch int
	written  int64
}

// NewBatchWriter creates a batch writer. batchSize <= 0 uses DefaultBatchSize.
func NewBatchWriter(writer model.RecordWriter, batchSize int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchWriter{
		writer:   writer,
		pending:  make([]*model.SlowQueryRecord, 0, batchSize),
		maxBatch: batchSize,
	}
}

// Add queues a record, flushing when the batch is full.
func (b *BatchWriter) Add(record *model.SlowQueryRecord) error {
	b.pending = append(b.pending, record)
	if len(b.pending) >= b.maxBatch {
		return b.Flush()
	}
	return nil
}

// Flush writes all pending records.
func (b *BatchWriter) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.writer.InsertRecords(b.pending); err != nil {
		return err
	}
	b.written += int64(len(b.pending))
	b.pending = make([]*model.SlowQueryRecord, 0, b.maxBatch)
	return nil
}

// Written returns the number of records flushed so far.
func (b *BatchWriter) Written() int64 {
	return b.written
}

// Insert appends a single record.
func (s *Store) Insert(record *model.SlowQueryRecord) error {
	return s.InsertRecords([]*model.SlowQueryRecord{record})
}

// InsertRecords appends records in a single transaction. The batch is
// all-or-nothing: any failure rolls it back and surfaces a StorageError.
func (s *Store) InsertRecords(records []*model.SlowQueryRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertBatchTx(ctx, records); err != nil {
		log.Error().Err(err).Int("records", len(records)).Msg("duckdb: batch insert failed")
		return model.NewStorageError("insert", err)
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, records []*model.SlowQueryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		var ts any
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp
		}
		if _, err := stmt.ExecContext(
			ctx,
			nullString(r.RunID), ts, r.Namespace, string(r.Operation), r.DurationMS,
			r.CommandText, nullString(r.PlanSummary), nullString(r.QueryHash),
			nullString(r.PlanCache), nullString(r.AppName), nullString(r.Severity),
			nullString(r.Component), nullString(r.Context),
			r.KeysExamined, r.DocsExamined, r.NReturned,
			r.ShapeKey, r.Shape, r.LineNo,
		); err != nil {
			return fmt.Errorf("record insert (line %d): %w", r.LineNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// nullString stores empty optional fields as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
