// Package report renders aggregation results for people and programs.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/mongoslow/internal/ingest"
	"github.com/tinytelemetry/mongoslow/internal/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", model.InvalidArgumentf("unknown format %q (want table, json or yaml)", s)
}

// Document is everything one invocation reports.
type Document struct {
	Source       string               `json:"source,omitempty" yaml:"source,omitempty"`
	Database     string               `json:"database" yaml:"database"`
	Dimension    model.Dimension      `json:"dimension" yaml:"dimension"`
	OrderBy      model.OrderBy        `json:"order_by" yaml:"order_by"`
	PlanFilter   string               `json:"plan_filter,omitempty" yaml:"plan_filter,omitempty"`
	TotalRecords int64                `json:"total_records" yaml:"total_records"`
	Summary      *ingest.Summary      `json:"ingest,omitempty" yaml:"ingest,omitempty"`
	Rows         []model.AggregateRow `json:"rows" yaml:"rows"`
	SQL          []string             `json:"sql,omitempty" yaml:"sql,omitempty"`
}

// Reporter writes documents in one format.
type Reporter struct {
	w         io.Writer
	format    Format
	charLimit int
}

// New creates a reporter. charLimit caps displayed command and plan text
// in table output (0 = unbounded).
func New(w io.Writer, format Format, charLimit int) *Reporter {
	return &Reporter{w: w, format: format, charLimit: charLimit}
}

// Write renders doc.
func (r *Reporter) Write(doc Document) error {
	if doc.Rows == nil {
		doc.Rows = []model.AggregateRow{}
	}
	switch r.format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("report: encode json: %w", err)
		}
		data = append(data, '\n')
		_, err = r.w.Write(data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("report: encode yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := io.WriteString(r.w, r.renderText(doc))
		return err
	}
}

// SQLHints returns the statements a user can run by hand against the
// database to reproduce stmt.
func SQLHints(dbPath, stmt string) []string {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	return []string{
		fmt.Sprintf("duckdb %s", dbPath),
		"DESCRIBE slow_queries;",
		strings.TrimSpace(stmt) + ";",
	}
}
