package logparse

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

const slowQueryMsg = "Slow query"

// parseStructured handles the relaxed Extended JSON log of MongoDB 4.4+.
func (p *Parser) parseStructured(line string) (model.SlowQueryRecord, error) {
	var rec model.SlowQueryRecord

	doc, ok := decodeDocument(line)
	if !ok {
		if strings.Contains(line, `"`+slowQueryMsg+`"`) {
			return rec, malformed(line, "undecodable structured line")
		}
		return rec, ErrNotASlowQuery
	}

	if msg, _ := lookupString(doc, "msg"); msg != slowQueryMsg {
		return rec, ErrNotASlowQuery
	}

	attr, ok := lookup(doc, "attr")
	if !ok {
		return rec, malformed(line, "missing attr")
	}

	ns, _ := lookupString(attr, "ns")
	if !validNamespace(ns) {
		return rec, malformed(line, "missing namespace")
	}
	rec.Namespace = ns

	rawDur, ok := lookup(attr, "durationMillis")
	if !ok {
		return rec, malformed(line, "missing duration")
	}
	if f, isFloat := rawDur.(float64); isFloat && !fitsInt64(f) {
		return rec, malformed(line, "duration %v out of range", rawDur)
	}
	dur, ok := toInt64(rawDur)
	if !ok {
		return rec, malformed(line, "non-numeric duration %v", rawDur)
	}
	if dur < 0 {
		return rec, malformed(line, "negative duration %d", dur)
	}
	rec.DurationMS = dur

	if t, ok := lookup(doc, "t"); ok {
		rec.Timestamp = p.documentTime(t)
	}
	if s, ok := lookupString(doc, "s"); ok {
		rec.Severity = NormalizeSeverity(s)
	}
	rec.Component, _ = lookupString(doc, "c")
	rec.Context, _ = lookupString(doc, "ctx")

	cmdName := ""
	if cmd, ok := lookup(attr, "command"); ok {
		cmdName = firstKey(cmd)
		rec.CommandText = extJSON(cmd)
	}
	typ, _ := lookupString(attr, "type")
	rec.Operation = typeOperation(typ, cmdName)

	rec.PlanSummary, _ = lookupString(attr, "planSummary")
	rec.QueryHash, _ = lookupString(attr, "queryHash")
	rec.PlanCache, _ = lookupString(attr, "planCacheKey")
	rec.AppName, _ = lookupString(attr, "appName")
	rec.KeysExamined = lookupCount(attr, "keysExamined")
	rec.DocsExamined = lookupCount(attr, "docsExamined")
	rec.NReturned = lookupCount(attr, "nreturned")

	return rec, nil
}

// decodeDocument decodes line as Extended JSON, falling back to plain JSON
// for lines the Extended JSON reader refuses (for example malformed type
// wrappers written by third-party tooling).
func decodeDocument(line string) (bson.D, bool) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(line), false, &doc); err == nil {
		return doc, true
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return nil, false
	}
	return sortedDocument(m), true
}

// sortedDocument converts a plain JSON object into a document with keys in
// lexical order so that re-encoding is deterministic.
func sortedDocument(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: sortedValue(m[k])})
	}
	return doc
}

func sortedValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sortedDocument(val)
	case []any:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}

func lookup(doc any, key string) (any, bool) {
	switch d := doc.(type) {
	case bson.D:
		for _, e := range d {
			if e.Key == key {
				return e.Value, true
			}
		}
	case bson.M:
		v, ok := d[key]
		return v, ok
	case map[string]any:
		v, ok := d[key]
		return v, ok
	}
	return nil, false
}

func lookupString(doc any, key string) (string, bool) {
	v, ok := lookup(doc, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupCount(doc any, key string) int64 {
	v, ok := lookup(doc, key)
	if !ok {
		return 0
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return 0
	}
	return n
}

func firstKey(doc any) string {
	switch d := doc.(type) {
	case bson.D:
		if len(d) > 0 {
			return d[0].Key
		}
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || !fitsInt64(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// fitsInt64 reports whether f converts to int64 without overflow.
func fitsInt64(f float64) bool {
	const limit = 1 << 63
	return f >= -limit && f < limit
}

// extJSON renders a command document as relaxed Extended JSON.
func extJSON(v any) string {
	b, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return ""
	}
	return string(b)
}

func (p *Parser) documentTime(v any) (t time.Time) {
	switch val := v.(type) {
	case bson.DateTime:
		return val.Time().UTC()
	case bson.D, bson.M, map[string]any:
		if inner, ok := lookup(val, "$date"); ok {
			return p.documentTime(inner)
		}
	default:
		if ts, ok := p.ts.ParseTimestamp(val); ok {
			return ts
		}
	}
	return t
}
