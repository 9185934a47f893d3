package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tinytelemetry/mongoslow/internal/duckdb"
	"github.com/tinytelemetry/mongoslow/internal/logparse"
	"github.com/tinytelemetry/mongoslow/internal/model"
	"github.com/tinytelemetry/mongoslow/internal/queryshape"
)

func newTestStore(t *testing.T) *duckdb.Store {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func ingestLines(t *testing.T, store *duckdb.Store, lines ...string) {
	t.Helper()
	p := logparse.NewParser()
	var records []*model.SlowQueryRecord
	for _, line := range lines {
		rec, err := p.Parse(line, 0)
		if err != nil {
			t.Fatalf("Parse(%q): %v", line, err)
		}
		queryshape.Apply(&rec)
		records = append(records, &rec)
	}
	if err := store.InsertRecords(records); err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
}

func TestAggregate_SameShapeGroupsTogether(t *testing.T) {
	store := newTestStore(t)
	ingestLines(t, store,
		`2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { filter: { status: "open" } } durationMillis:150`,
		`2024-01-01T00:00:01 I COMMAND [conn1] command mydb.orders command: find { filter: { status: "closed" } } durationMillis:250`,
	)

	rows, err := New(store).Aggregate(context.Background(), Request{
		Dimension: model.DimensionShape,
		OrderBy:   model.OrderByCount,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.OccurrenceCount != 2 || r.TotalDurationMS != 400 || r.AvgDurationMS != 200 || r.MaxDurationMS != 250 {
		t.Errorf("row = %+v", r)
	}
	if r.Namespace != "mydb.orders" || r.Operation != "query" {
		t.Errorf("row ns/op = %q %q", r.Namespace, r.Operation)
	}
}

func TestAggregate_EmptyStore(t *testing.T) {
	rows, err := New(newTestStore(t)).Aggregate(context.Background(), Request{
		Dimension: model.DimensionShape,
		OrderBy:   model.OrderByCount,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want empty slice", rows)
	}
}

func TestAggregate_SortedAndLimited(t *testing.T) {
	store := newTestStore(t)
	ingestLines(t, store,
		`2024-01-01T00:00:00 I COMMAND [conn1] command db.a command: find { filter: { x: 1 } } durationMillis:100`,
		`2024-01-01T00:00:00 I COMMAND [conn1] command db.a command: find { filter: { y: 1 } } durationMillis:900`,
		`2024-01-01T00:00:00 I COMMAND [conn1] command db.a command: find { filter: { z: 1 } } durationMillis:500`,
		`2024-01-01T00:00:00 I COMMAND [conn1] command db.b command: find { filter: { x: 1 } } durationMillis:300`,
	)

	for _, order := range []model.OrderBy{
		model.OrderByCount, model.OrderByTotalDuration, model.OrderByAvgDuration, model.OrderByMaxDuration,
	} {
		for limit := 1; limit <= 5; limit++ {
			rows, err := New(store).Aggregate(context.Background(), Request{
				Dimension: model.DimensionShape,
				OrderBy:   order,
				Limit:     limit,
			})
			if err != nil {
				t.Fatalf("Aggregate(%s, %d): %v", order, limit, err)
			}
			if len(rows) > limit {
				t.Errorf("Aggregate(%s, %d) returned %d rows", order, limit, len(rows))
			}
			for i := 1; i < len(rows); i++ {
				if rows[i].Stat(order) > rows[i-1].Stat(order) {
					t.Errorf("%s: row %d (%v) ranks above row %d (%v)", order, i, rows[i].Stat(order), i-1, rows[i-1].Stat(order))
				}
			}
		}
	}

	rows, err := New(store).Aggregate(context.Background(), Request{
		Dimension: model.DimensionNamespace,
		OrderBy:   model.OrderByTotalDuration,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Aggregate namespace: %v", err)
	}
	if len(rows) != 2 || rows[0].Key != "db.a" || rows[0].TotalDurationMS != 1500 {
		t.Errorf("namespace rows = %+v", rows)
	}
}

func TestAggregate_InvalidArgument(t *testing.T) {
	agg := New(newTestStore(t))

	tests := []struct {
		name string
		req  Request
	}{
		{"zero limit", Request{Dimension: model.DimensionShape, OrderBy: model.OrderByCount, Limit: 0}},
		{"negative limit", Request{Dimension: model.DimensionShape, OrderBy: model.OrderByCount, Limit: -3}},
		{"unknown dimension", Request{Dimension: "host", OrderBy: model.OrderByCount, Limit: 1}},
		{"unknown order", Request{Dimension: model.DimensionShape, OrderBy: "p99", Limit: 1}},
		{"negative min count", Request{Dimension: model.DimensionShape, OrderBy: model.OrderByCount, Limit: 1, MinCount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := agg.Aggregate(context.Background(), tt.req); !errors.Is(err, model.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

type failingStore struct{ err error }

func (f failingStore) QueryGrouped(context.Context, model.GroupQuery) ([]model.AggregateRow, error) {
	return nil, f.err
}

func TestAggregate_PropagatesStorageError(t *testing.T) {
	boom := &model.StorageError{Op: "query grouped", Err: errors.New("database is closed")}

	rows, err := New(failingStore{err: boom}).Aggregate(context.Background(), Request{
		Dimension: model.DimensionShape,
		OrderBy:   model.OrderByCount,
		Limit:     10,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if rows != nil {
		t.Errorf("rows = %v, want nil on failure", rows)
	}
}

func TestAggregate_ReadOnly(t *testing.T) {
	store := newTestStore(t)
	ingestLines(t, store,
		`2024-01-01T00:00:00 I COMMAND [conn1] command mydb.orders command: find { filter: { status: "open" } } durationMillis:150`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if _, err := New(store).Aggregate(ctx, Request{Dimension: model.DimensionShape, OrderBy: model.OrderByCount, Limit: 1}); err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
	}
	count, err := store.TotalRecordCount()
	if err != nil {
		t.Fatalf("TotalRecordCount: %v", err)
	}
	if count != 1 {
		t.Errorf("record count changed to %d", count)
	}
}
