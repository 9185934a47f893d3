// Package aggregate ranks groups of slow-query records.
package aggregate

import (
	"context"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// Request selects the grouping, ranking and filtering of an aggregation.
type Request struct {
	Dimension  model.Dimension
	OrderBy    model.OrderBy
	Limit      int
	MinCount   int
	PlanFilter string
}

// Aggregator validates requests and runs them against a read-only store.
type Aggregator struct {
	store model.GroupQuerier
}

// New creates an aggregator over store.
func New(store model.GroupQuerier) *Aggregator {
	return &Aggregator{store: store}
}

// Validate checks req without touching the store.
func (r Request) Validate() error {
	if r.Limit <= 0 {
		return model.InvalidArgumentf("limit must be positive, got %d", r.Limit)
	}
	if !r.Dimension.Valid() {
		return model.InvalidArgumentf("unknown dimension %q", r.Dimension)
	}
	if !r.OrderBy.Valid() {
		return model.InvalidArgumentf("unknown order %q", r.OrderBy)
	}
	if r.MinCount < 0 {
		return model.InvalidArgumentf("minimum count must not be negative, got %d", r.MinCount)
	}
	return nil
}

// Aggregate returns at most req.Limit groups sorted descending by
// req.OrderBy. Storage failures are returned as is; there is no retry and
// no partial result.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) ([]model.AggregateRow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.store.QueryGrouped(ctx, req.Query())
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.AggregateRow{}
	}
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return rows, nil
}

// Query converts req to the store-level query.
func (r Request) Query() model.GroupQuery {
	return model.GroupQuery{
		Dimension:  r.Dimension,
		OrderBy:    r.OrderBy,
		Limit:      r.Limit,
		MinCount:   r.MinCount,
		PlanFilter: r.PlanFilter,
	}
}
