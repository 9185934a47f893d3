package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultMaxLineSize bounds a single physical line (bytes).
	DefaultMaxLineSize = 16 * 1024 * 1024

	// maxEventLines bounds how many physical lines one JSON event may span,
	// so an unbalanced line cannot swallow the rest of the input.
	maxEventLines = 10_000
)

// structuredStart marks the first line of a MongoDB 4.4+ log record.
const structuredStart = `{"t":`

// Event is one logical log event: a single line, or a JSON document that
// was pretty-printed across several lines.
type Event struct {
	Text   string
	LineNo int64 // first physical line, 1-based
}

// EventScanner reads events from r. Lines opening a JSON object are joined
// with their continuation lines until braces balance.
type EventScanner struct {
	sc      *bufio.Scanner
	lineNo  int64
	event   Event
	pending *Event
	err     error
}

// NewEventScanner creates a scanner. maxLineSize <= 0 uses DefaultMaxLineSize.
func NewEventScanner(r io.Reader, maxLineSize int) *EventScanner {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	sc := bufio.NewScanner(r)
	// bufio.Scanner only enforces the cap once the initial buffer is full.
	sc.Buffer(make([]byte, 0, min(64*1024, maxLineSize)), maxLineSize)
	return &EventScanner{sc: sc}
}

// Scan advances to the next event.
func (s *EventScanner) Scan() bool {
	if s.pending != nil {
		first := *s.pending
		s.pending = nil
		return s.startEvent(first.Text, first.LineNo)
	}
	for s.sc.Scan() {
		line := s.sc.Text()
		s.lineNo++
		if strings.TrimSpace(line) == "" {
			continue
		}
		return s.startEvent(line, s.lineNo)
	}
	s.setErr()
	return false
}

func (s *EventScanner) startEvent(line string, lineNo int64) bool {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		s.event = Event{Text: line, LineNo: lineNo}
		return true
	}

	depth := CountJSONDepth(line)
	if depth <= 0 {
		s.event = Event{Text: line, LineNo: lineNo}
		return true
	}

	var buf strings.Builder
	buf.WriteString(line)
	lines := 1
	for depth > 0 && lines < maxEventLines && s.sc.Scan() {
		next := s.sc.Text()
		s.lineNo++
		if strings.HasPrefix(strings.TrimSpace(next), structuredStart) {
			// A new record began; the current one was truncated.
			s.pending = &Event{Text: next, LineNo: s.lineNo}
			break
		}
		buf.WriteByte('\n')
		buf.WriteString(next)
		depth += CountJSONDepth(next)
		lines++
	}
	s.event = Event{Text: buf.String(), LineNo: lineNo}
	return true
}

func (s *EventScanner) setErr() {
	if err := s.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.err = fmt.Errorf("line %d exceeds the maximum line size: %w", s.lineNo+1, err)
			return
		}
		s.err = err
	}
}

// Event returns the event found by the last Scan.
func (s *EventScanner) Event() Event { return s.event }

// Lines returns the number of physical lines read so far.
func (s *EventScanner) Lines() int64 { return s.lineNo }

// Err returns the first read error, if any.
func (s *EventScanner) Err() error { return s.err }

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
