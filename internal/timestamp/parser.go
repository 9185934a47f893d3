// Package timestamp parses the timestamp prefixes and values found in
// MongoDB server logs across versions.
package timestamp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// isoPrefix matches ISO-8601 timestamps as written by mongod 2.6+
	// (iso8601-local and iso8601-utc) and the structured 4.4+ $date form.
	isoPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

	// ctimePrefix matches the pre-2.6 ctime format, which carries no year.
	ctimePrefix = regexp.MustCompile(`^[A-Z][a-z]{2} [A-Z][a-z]{2} [ \d]?\d \d{2}:\d{2}:\d{2}(?:\.\d+)?`)
)

var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

var ctimeLayouts = []string{
	"Mon Jan _2 15:04:05",
	"Mon Jan 2 15:04:05",
}

// Result holds the outcome of a prefix parse.
type Result struct {
	Timestamp time.Time
	Found     bool
	Remaining string // text after the timestamp, left-trimmed
}

// Parser extracts timestamps from log text. The zero value is not usable;
// call NewParser.
type Parser struct {
	// Year is applied to ctime timestamps, which omit it.
	Year int
}

// NewParser returns a parser that dates ctime timestamps in the current year.
func NewParser() *Parser {
	return &Parser{Year: time.Now().UTC().Year()}
}

// ParseFromText parses a timestamp at the start of text.
func (p *Parser) ParseFromText(text string) Result {
	trimmed := strings.TrimLeft(text, " \t")

	if m := isoPrefix.FindString(trimmed); m != "" {
		if ts, ok := parseISO(m); ok {
			return Result{Timestamp: ts, Found: true, Remaining: strings.TrimLeft(trimmed[len(m):], " \t")}
		}
	}

	if m := ctimePrefix.FindString(trimmed); m != "" {
		if ts, ok := p.parseCtime(m); ok {
			return Result{Timestamp: ts, Found: true, Remaining: strings.TrimLeft(trimmed[len(m):], " \t")}
		}
	}

	return Result{Remaining: text}
}

// ParseTimestamp converts a decoded timestamp value (string or unix number)
// into a time. Numbers are classified by magnitude as seconds, millis,
// micros or nanos.
func (p *Parser) ParseTimestamp(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if res := p.ParseFromText(s); res.Found && res.Remaining == "" {
			return res.Timestamp, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parseUnix(n), true
		}
		return time.Time{}, false
	case float64:
		return parseUnix(int64(v)), true
	case int64:
		return parseUnix(v), true
	case int32:
		return parseUnix(int64(v)), true
	case int:
		return parseUnix(int64(v)), true
	case time.Time:
		return v, !v.IsZero()
	}
	return time.Time{}, false
}

func parseISO(s string) (time.Time, bool) {
	s = strings.Replace(s, ",", ".", 1)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func (p *Parser) parseCtime(s string) (time.Time, bool) {
	for _, layout := range ctimeLayouts {
		ts, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Date(p.Year, ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC), true
	}
	return time.Time{}, false
}

func parseUnix(n int64) time.Time {
	switch {
	case n <= 1e10:
		return time.Unix(n, 0).UTC()
	case n <= 1e13:
		return time.UnixMilli(n).UTC()
	case n <= 1e16:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}
