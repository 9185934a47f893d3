package model

import "time"

// Operation is the kind of MongoDB operation a slow-query record describes.
type Operation string

const (
	OpQuery     Operation = "query"
	OpGetMore   Operation = "getmore"
	OpInsert    Operation = "insert"
	OpUpdate    Operation = "update"
	OpRemove    Operation = "remove"
	OpAggregate Operation = "aggregate"
	OpCommand   Operation = "command"
	OpUnknown   Operation = "unknown"
)

// Operations lists every valid Operation in display order.
var Operations = []Operation{OpQuery, OpGetMore, OpInsert, OpUpdate, OpRemove, OpAggregate, OpCommand, OpUnknown}

// Valid reports whether op belongs to the closed operation set.
func (op Operation) Valid() bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// SlowQueryRecord is one parsed slow-query log event.
// It is the canonical type for parsing, storage, and reporting.
type SlowQueryRecord struct {
	Timestamp   time.Time // Zero value = no parsable timestamp
	Severity    string    // I/W/E/F/D normalized to INFO/WARN/...
	Component   string    // COMMAND, WRITE, QUERY, ...
	Context     string    // conn1, TTLMonitor, ...
	Namespace   string
	Operation   Operation
	DurationMS  int64
	CommandText string // possibly truncated to the configured char limit
	PlanSummary string
	QueryHash   string
	PlanCache   string
	AppName     string

	KeysExamined int64
	DocsExamined int64
	NReturned    int64

	// FullCommandText is the untruncated command text. It feeds shape
	// derivation and is never persisted.
	FullCommandText string `json:"-" yaml:"-"`

	ShapeKey string // stable hash of operation, namespace and command skeleton
	Shape    string // human-readable command skeleton

	LineNo int64
	RunID  string
}

// Dimension selects the grouping key of an aggregate query.
type Dimension string

const (
	DimensionShape     Dimension = "shape"
	DimensionNamespace Dimension = "namespace"
	DimensionQueryHash Dimension = "hash"
)

// Valid reports whether d is a supported grouping dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionShape, DimensionNamespace, DimensionQueryHash:
		return true
	}
	return false
}

// OrderBy selects the statistic aggregate rows are ranked by.
type OrderBy string

const (
	OrderByCount         OrderBy = "count"
	OrderByTotalDuration OrderBy = "total_duration"
	OrderByAvgDuration   OrderBy = "avg_duration"
	OrderByMaxDuration   OrderBy = "max_duration"
)

// Valid reports whether o is a supported ordering statistic.
func (o OrderBy) Valid() bool {
	switch o {
	case OrderByCount, OrderByTotalDuration, OrderByAvgDuration, OrderByMaxDuration:
		return true
	}
	return false
}

// AggregateRow is one group of an aggregate query. It is never persisted.
type AggregateRow struct {
	Key             string  `json:"key" yaml:"key"`
	OccurrenceCount int64   `json:"occurrence_count" yaml:"occurrence_count"`
	TotalDurationMS int64   `json:"total_duration_ms" yaml:"total_duration_ms"`
	AvgDurationMS   float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	MaxDurationMS   int64   `json:"max_duration_ms" yaml:"max_duration_ms"`

	// Descriptive columns; populated where the dimension allows it.
	Namespace     string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Operation     string `json:"operation,omitempty" yaml:"operation,omitempty"`
	Shape         string `json:"shape,omitempty" yaml:"shape,omitempty"`
	SampleCommand string `json:"sample_command,omitempty" yaml:"sample_command,omitempty"`
	PlanSummaries string `json:"plan_summaries,omitempty" yaml:"plan_summaries,omitempty"`
}

// Stat returns the value of the statistic o for this row.
func (r AggregateRow) Stat(o OrderBy) float64 {
	switch o {
	case OrderByCount:
		return float64(r.OccurrenceCount)
	case OrderByTotalDuration:
		return float64(r.TotalDurationMS)
	case OrderByMaxDuration:
		return float64(r.MaxDurationMS)
	default:
		return r.AvgDurationMS
	}
}

// GroupQuery is a grouped statistical query against the record store.
type GroupQuery struct {
	Dimension  Dimension
	OrderBy    OrderBy
	Limit      int
	MinCount   int    // groups with fewer occurrences are dropped
	PlanFilter string // substring the plan summary must contain; empty = all
}

// IngestRun records one ingestion pass over an input file.
type IngestRun struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Lines      int64     `json:"lines"`
	Events     int64     `json:"events"`
	Ingested   int64     `json:"ingested"`
	NotSlow    int64     `json:"not_slow"`
	Malformed  int64     `json:"malformed"`
}

// Snapshot describes one point-in-time copy of the analysis database.
type Snapshot struct {
	Path    string `json:"path"`
	RunID   string `json:"run_id,omitempty"` // latest ingest run captured
	Records int64  `json:"records"`
	Bytes   int64  `json:"bytes"`
}
