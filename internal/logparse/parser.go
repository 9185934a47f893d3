// Package logparse turns raw mongod log lines into slow-query records.
//
// Two families of input are understood: the structured JSON log written by
// MongoDB 4.4 and later, and the free-text log of earlier releases. Every
// field is extracted by an independent probe so that version differences in
// optional fields never affect the required ones (namespace and duration).
package logparse

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tinytelemetry/mongoslow/internal/model"
	"github.com/tinytelemetry/mongoslow/internal/timestamp"
)

var (
	// ErrNotASlowQuery is returned for lines that are not slow-query events
	// (startup banners, connection chatter, ...).
	ErrNotASlowQuery = errors.New("not a slow query")

	// ErrMalformedRecord matches every *MalformedError.
	ErrMalformedRecord = errors.New("malformed slow query record")
)

// MalformedError is returned for lines that look like slow-query events but
// lack a required field. The offending line is kept for diagnostics.
type MalformedError struct {
	Line   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed slow query record: %s", e.Reason)
}

// Is makes errors.Is(err, ErrMalformedRecord) hold.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func malformed(line, format string, args ...any) error {
	return &MalformedError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Parser extracts slow-query records from log lines. It holds no per-line
// state and is safe for concurrent use.
type Parser struct {
	ts *timestamp.Parser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{ts: timestamp.NewParser()}
}

// NewParserWithTimestamps creates a parser that uses ts for timestamp
// extraction (for example to pin the year of ctime timestamps).
func NewParserWithTimestamps(ts *timestamp.Parser) *Parser {
	return &Parser{ts: ts}
}

// Parse converts one log line into a record. CommandText is truncated to
// charLimit runes (0 = unbounded); FullCommandText keeps the original.
func (p *Parser) Parse(line string, charLimit int) (model.SlowQueryRecord, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return model.SlowQueryRecord{}, ErrNotASlowQuery
	}

	var (
		rec model.SlowQueryRecord
		err error
	)
	if trimmed[0] == '{' {
		rec, err = p.parseStructured(trimmed)
	} else {
		rec, err = p.parseText(trimmed)
	}
	if err != nil {
		return model.SlowQueryRecord{}, err
	}

	rec.FullCommandText = rec.CommandText
	rec.CommandText = Truncate(rec.CommandText, charLimit)
	return rec, nil
}

// Truncate shortens s to at most limit runes. limit <= 0 means unbounded.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// validNamespace reports whether ns looks like "<db>.<collection>".
func validNamespace(ns string) bool {
	dot := strings.IndexByte(ns, '.')
	return dot > 0 && dot < len(ns)-1 && !strings.ContainsAny(ns, " {}:")
}
