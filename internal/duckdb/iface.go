package duckdb

import "github.com/tinytelemetry/mongoslow/internal/model"

// Type aliases re-export model contracts so callers holding a *Store can
// name them without importing model.
type RecordWriter = model.RecordWriter
type GroupQuerier = model.GroupQuerier
type SchemaQuerier = model.SchemaQuerier
type RecordReader = model.RecordReader

var (
	_ RecordWriter = (*Store)(nil)
	_ RecordReader = (*Store)(nil)
)
