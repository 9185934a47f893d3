package duckdb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

var dimensionColumns = map[model.Dimension]string{
	model.DimensionShape:     "shape_key",
	model.DimensionNamespace: "namespace",
	model.DimensionQueryHash: "query_hash",
}

var orderColumns = map[model.OrderBy]string{
	model.OrderByCount:         "cnt",
	model.OrderByTotalDuration: "total_ms",
	model.OrderByAvgDuration:   "avg_ms",
	model.OrderByMaxDuration:   "max_ms",
}

// groupedStatement builds the grouped query for q. The returned args bind
// the placeholders in order.
func groupedStatement(q model.GroupQuery) (string, []any, error) {
	keyCol, ok := dimensionColumns[q.Dimension]
	if !ok {
		return "", nil, model.InvalidArgumentf("unknown dimension %q", q.Dimension)
	}
	orderCol, ok := orderColumns[q.OrderBy]
	if !ok {
		return "", nil, model.InvalidArgumentf("unknown order %q", q.OrderBy)
	}

	var (
		conditions []string
		args       []any
	)
	if q.Dimension == model.DimensionQueryHash {
		conditions = append(conditions, "query_hash IS NOT NULL AND query_hash <> ''")
	}
	if q.PlanFilter != "" {
		conditions = append(conditions, "plan_summary LIKE ?")
		args = append(args, "%"+q.PlanFilter+"%")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	minCount := q.MinCount
	if minCount < 1 {
		minCount = 1
	}
	args = append(args, minCount, q.Limit)

	query := fmt.Sprintf(`SELECT
	%s AS group_key,
	COUNT(*) AS cnt,
	CAST(SUM(duration_ms) AS BIGINT) AS total_ms,
	AVG(duration_ms) AS avg_ms,
	MAX(duration_ms) AS max_ms,
	arg_min(namespace, id) AS sample_ns,
	arg_min(operation, id) AS sample_op,
	arg_min(shape, id) AS sample_shape,
	COALESCE(arg_min(command_text, id), '') AS sample_cmd,
	COALESCE(string_agg(DISTINCT plan_summary, ', ' ORDER BY plan_summary), '') AS plans
FROM slow_queries
%s
GROUP BY group_key
HAVING COUNT(*) >= ?
ORDER BY %s DESC, cnt DESC, group_key ASC
LIMIT ?`, keyCol, where, orderCol)

	return query, args, nil
}

// QueryGrouped groups stored records by q.Dimension and returns at most
// q.Limit rows ordered by q.OrderBy descending, ties broken by count
// descending then key ascending. An empty store yields an empty slice.
func (s *Store) QueryGrouped(ctx context.Context, q model.GroupQuery) ([]model.AggregateRow, error) {
	query, args, err := groupedStatement(q)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("query grouped", err)
	}
	defer rows.Close()

	results := []model.AggregateRow{}
	for rows.Next() {
		var r model.AggregateRow
		if err := rows.Scan(
			&r.Key, &r.OccurrenceCount, &r.TotalDurationMS, &r.AvgDurationMS, &r.MaxDurationMS,
			&r.Namespace, &r.Operation, &r.Shape, &r.SampleCommand, &r.PlanSummaries,
		); err != nil {
			return nil, model.NewStorageError("scan grouped", err)
		}
		if q.Dimension == model.DimensionNamespace {
			// Per-namespace groups mix operations and shapes.
			r.Operation, r.Shape = "", ""
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("query grouped", err)
	}
	return results, nil
}

// GroupedSQL renders the grouped query for q with its arguments inlined,
// for users who want to explore the database by hand.
func GroupedSQL(q model.GroupQuery) (string, error) {
	query, args, err := groupedStatement(q)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	i := 0
	for _, c := range query {
		if c != '?' || i >= len(args) {
			b.WriteRune(c)
			continue
		}
		switch v := args[i].(type) {
		case string:
			b.WriteString("'" + strings.ReplaceAll(v, "'", "''") + "'")
		case int:
			b.WriteString(strconv.Itoa(v))
		default:
			fmt.Fprintf(&b, "%v", v)
		}
		i++
	}
	return b.String(), nil
}

// TotalRecordCount returns the number of stored records.
func (s *Store) TotalRecordCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM slow_queries").Scan(&count); err != nil {
		return 0, model.NewStorageError("count", err)
	}
	return count, nil
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, model.InvalidArgumentf("query must not contain semicolons")
	}

	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, model.InvalidArgumentf("only SELECT/WITH queries are allowed")
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, model.InvalidArgumentf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Warn().Err(err).Msg("duckdb scan error (ExecuteQuery)")
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// SchemaDescription returns a human-readable schema description.
func (s *Store) SchemaDescription() string {
	return `Table 'slow_queries': id (BIGINT), run_id (VARCHAR), ts (TIMESTAMP), namespace (VARCHAR), ` +
		`operation (VARCHAR: query/getmore/insert/update/remove/aggregate/command), duration_ms (BIGINT), ` +
		`command_text (VARCHAR), plan_summary (VARCHAR), query_hash (VARCHAR), plan_cache_key (VARCHAR), ` +
		`app_name (VARCHAR), severity (VARCHAR), component (VARCHAR), ctx (VARCHAR), keys_examined (BIGINT), ` +
		`docs_examined (BIGINT), nreturned (BIGINT), shape_key (VARCHAR), shape (VARCHAR), line_no (BIGINT). ` +
		`Table 'ingest_runs': run_id (VARCHAR), source (VARCHAR), started_at (TIMESTAMP), finished_at (TIMESTAMP), ` +
		`lines, events, ingested, not_slow, malformed (BIGINT).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"slow_queries", "ingest_runs"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
