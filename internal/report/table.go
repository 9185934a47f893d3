package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tinytelemetry/mongoslow/internal/logparse"
	"github.com/tinytelemetry/mongoslow/internal/model"
)

var (
	ColorBlue = lipgloss.Color("12")
	ColorGray = lipgloss.Color("8")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorGray)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

func (r *Reporter) renderText(doc Document) string {
	var sections []string

	if doc.Summary != nil {
		sections = append(sections, renderSummary(doc))
	}

	title := fmt.Sprintf("Top %d by %s, grouped by %s", len(doc.Rows), doc.OrderBy, doc.Dimension)
	if doc.PlanFilter != "" {
		title += fmt.Sprintf(" (plan %s)", doc.PlanFilter)
	}
	sections = append(sections, titleStyle.Render(title))

	if len(doc.Rows) == 0 {
		sections = append(sections, mutedStyle.Render("No slow queries matched."))
	} else {
		sections = append(sections, r.renderRows(doc))
	}

	if len(doc.SQL) > 0 {
		sections = append(sections, titleStyle.Render("Explore the data yourself:"))
		for _, stmt := range doc.SQL {
			sections = append(sections, stmt)
		}
	}
	return strings.Join(sections, "\n") + "\n"
}

func renderSummary(doc Document) string {
	s := doc.Summary
	lines := []string{
		titleStyle.Render("Ingest summary"),
		fmt.Sprintf("  lines read:      %d", s.Lines),
		fmt.Sprintf("  events:          %d", s.Events),
		fmt.Sprintf("  slow queries:    %d", s.Ingested),
		fmt.Sprintf("  skipped:         %d (not slow: %d, malformed: %d)", s.Skipped(), s.NotSlow, s.Malformed),
	}
	if len(s.ByOperation) > 0 {
		ops := make([]string, 0, len(s.ByOperation))
		for op := range s.ByOperation {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		parts := make([]string, 0, len(ops))
		for _, op := range ops {
			parts = append(parts, fmt.Sprintf("%s=%d", op, s.ByOperation[model.Operation(op)]))
		}
		lines = append(lines, "  by operation:    "+strings.Join(parts, " "))
	}
	lines = append(lines, fmt.Sprintf("  stored records:  %d", doc.TotalRecords))
	return strings.Join(lines, "\n") + "\n"
}

func (r *Reporter) renderRows(doc Document) string {
	var headers []string
	switch doc.Dimension {
	case model.DimensionNamespace:
		headers = []string{"#", "Namespace", "Count", "Total ms", "Avg ms", "Max ms", "Plans", "Sample"}
	case model.DimensionQueryHash:
		headers = []string{"#", "Query hash", "Namespace", "Op", "Count", "Total ms", "Avg ms", "Max ms", "Plans", "Sample"}
	default:
		headers = []string{"#", "Namespace", "Op", "Count", "Total ms", "Avg ms", "Max ms", "Plans", "Shape"}
	}

	rows := make([][]string, 0, len(doc.Rows))
	for i, row := range doc.Rows {
		stats := []string{
			strconv.FormatInt(row.OccurrenceCount, 10),
			strconv.FormatInt(row.TotalDurationMS, 10),
			strconv.FormatFloat(row.AvgDurationMS, 'f', 1, 64),
			strconv.FormatInt(row.MaxDurationMS, 10),
		}
		plans := r.clip(row.PlanSummaries)
		var cells []string
		switch doc.Dimension {
		case model.DimensionNamespace:
			cells = append([]string{strconv.Itoa(i + 1), row.Key}, stats...)
			cells = append(cells, plans, r.clip(row.SampleCommand))
		case model.DimensionQueryHash:
			cells = append([]string{strconv.Itoa(i + 1), row.Key, row.Namespace, row.Operation}, stats...)
			cells = append(cells, plans, r.clip(row.SampleCommand))
		default:
			cells = append([]string{strconv.Itoa(i + 1), row.Namespace, row.Operation}, stats...)
			cells = append(cells, plans, r.clip(row.Shape))
		}
		rows = append(rows, cells)
	}

	numeric := make(map[int]bool)
	for i, h := range headers {
		if h == "#" || h == "Count" || strings.HasSuffix(h, " ms") {
			numeric[i] = true
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case numeric[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}

func (r *Reporter) clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r.charLimit > 0 && len([]rune(s)) > r.charLimit {
		return logparse.Truncate(s, r.charLimit) + "…"
	}
	return s
}
