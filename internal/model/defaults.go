package model

import "time"

// Shared defaults used by the CLI and the report API.
const (
	DefaultLimit        = 10
	DefaultCharLimit    = 100
	DefaultMinCount     = 1
	DefaultDimension    = DimensionShape
	DefaultOrderBy      = OrderByAvgDuration
	DefaultQueryTimeout = 30 * time.Second
)
