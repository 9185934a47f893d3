package model

import "context"

// RecordWriter provides append-only writes of slow-query records.
type RecordWriter interface {
	InsertRecords(records []*SlowQueryRecord) error
}

// GroupQuerier runs grouped statistical queries over stored records.
type GroupQuerier interface {
	QueryGrouped(ctx context.Context, q GroupQuery) ([]AggregateRow, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	SchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// RecordReader is the unified read-side contract used by report surfaces.
type RecordReader interface {
	GroupQuerier
	SchemaQuerier
	TotalRecordCount() (int64, error)
}
