package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// legacyDuration matches the trailing "<n>ms" column of pre-4.4 logs.
var legacyDuration = regexp.MustCompile(`^(-?\d+)ms$`)

// parseText handles free-text log lines:
//
//	<timestamp> [<severity> <component>] [<ctx>] <verb> <ns> <fields...> [<n>ms]
func (p *Parser) parseText(line string) (model.SlowQueryRecord, error) {
	var rec model.SlowQueryRecord

	head := p.ts.ParseFromText(line)
	if !head.Found {
		return rec, ErrNotASlowQuery
	}
	rec.Timestamp = head.Timestamp

	toks := tokenize(head.Remaining)
	i := 0
	if i < len(toks) && IsSeverityCode(toks[i].text) {
		rec.Severity = NormalizeSeverity(toks[i].text)
		i++
		if i < len(toks) && isComponent(toks[i].text) {
			rec.Component = toks[i].text
			i++
		}
	}
	if i < len(toks) && isContext(toks[i].text) {
		rec.Context = strings.Trim(toks[i].text, "[]")
		i++
	}
	if i >= len(toks) {
		return rec, ErrNotASlowQuery
	}

	verb := strings.ToLower(toks[i].text)
	op, ok := verbOperations[verb]
	if !ok {
		return rec, ErrNotASlowQuery
	}
	i++

	if i >= len(toks) || !validNamespace(toks[i].text) {
		return rec, malformed(line, "missing namespace")
	}
	rec.Namespace = toks[i].text

	f := textFields{text: head.Remaining, toks: toks[i+1:]}

	dur, err := f.duration(line)
	if err != nil {
		return rec, err
	}
	rec.DurationMS = dur

	rec.CommandText = f.commandText(verb)
	if op == model.OpCommand && verb == "command" {
		op = CommandOperation(commandName(rec.CommandText))
	}
	rec.Operation = op

	rec.PlanSummary = f.planSummary()
	rec.QueryHash, _ = f.lookup("queryHash")
	rec.PlanCache, _ = f.lookup("planCacheKey")
	if app, ok := f.lookup("appName"); ok {
		rec.AppName = strings.Trim(app, `"'`)
	}
	rec.KeysExamined = f.lookupInt("keysExamined", "nscanned")
	rec.DocsExamined = f.lookupInt("docsExamined", "nscannedObjects")
	rec.NReturned = f.lookupInt("nreturned", "nReturned")

	return rec, nil
}

func isComponent(tok string) bool {
	if tok == "-" {
		return true
	}
	for _, c := range tok {
		if (c < 'A' || c > 'Z') && c != '_' {
			return false
		}
	}
	return tok != ""
}

func isContext(tok string) bool {
	return len(tok) >= 2 && tok[0] == '[' && tok[len(tok)-1] == ']'
}

// commandName returns the command a command text starts with, either a bare
// leading word ("find { ... }") or the first document key.
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if text[0] != '{' {
		if end := strings.IndexAny(text, " {"); end > 0 {
			return text[:end]
		}
		return text
	}
	key := strings.TrimLeft(text[1:], " ")
	if end := strings.IndexAny(key, ":, }"); end > 0 {
		key = key[:end]
	}
	return strings.Trim(key, `"'`)
}

// textFields is the token stream following the namespace. Each accessor is
// an independent probe; absent fields yield zero values.
type textFields struct {
	text string
	toks []token
}

// lookup returns the value of "key: value" or "key:value".
func (f textFields) lookup(key string) (string, bool) {
	prefix := key + ":"
	for i, t := range f.toks {
		if t.text == prefix {
			if i+1 < len(f.toks) {
				return f.toks[i+1].text, true
			}
			return "", false
		}
		if strings.HasPrefix(t.text, prefix) {
			return t.text[len(prefix):], true
		}
	}
	return "", false
}

func (f textFields) lookupInt(keys ...string) int64 {
	for _, key := range keys {
		if v, ok := f.lookup(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}

// docValue returns the raw text of a document-valued field. A bare word
// directly followed by a document ("find { ... }") is kept together.
func (f textFields) docValue(key string) (string, bool) {
	prefix := key + ":"
	for i, t := range f.toks {
		if t.text != prefix {
			if strings.HasPrefix(t.text, prefix+"{") {
				return t.text[len(prefix):], true
			}
			continue
		}
		j := i + 1
		if j >= len(f.toks) {
			return "", false
		}
		v := f.toks[j]
		if !v.isGroup() && !strings.HasSuffix(v.text, ":") && j+1 < len(f.toks) && f.toks[j+1].isGroup() {
			return f.text[v.start:f.toks[j+1].end], true
		}
		return v.text, true
	}
	return "", false
}

func (f textFields) commandText(verb string) string {
	text, ok := f.docValue("command")
	if !ok {
		text, _ = f.docValue("query")
	}
	if verb == "update" {
		if upd, ok := f.docValue("update"); ok {
			if text == "" {
				return "update: " + upd
			}
			return text + " update: " + upd
		}
	}
	return text
}

// planSummary collects tokens after "planSummary:" up to the next field.
func (f textFields) planSummary() string {
	for i, t := range f.toks {
		if t.text != "planSummary:" {
			continue
		}
		start, end := -1, -1
		for _, v := range f.toks[i+1:] {
			if isFieldToken(v) {
				break
			}
			if start < 0 {
				start = v.start
			}
			end = v.end
		}
		if start < 0 {
			return ""
		}
		return f.text[start:end]
	}
	return ""
}

// isFieldToken reports whether v begins a new field (key: or key:value) or
// is the trailing duration column.
func isFieldToken(v token) bool {
	if v.isGroup() {
		return false
	}
	if strings.Contains(v.text, ":") {
		return true
	}
	return legacyDuration.MatchString(v.text)
}

func (f textFields) duration(line string) (int64, error) {
	if v, ok := f.lookup("durationMillis"); ok {
		return parseDuration(line, v)
	}
	for i := len(f.toks) - 1; i >= 0; i-- {
		if m := legacyDuration.FindStringSubmatch(f.toks[i].text); m != nil {
			return parseDuration(line, m[1])
		}
	}
	return 0, malformed(line, "missing duration")
}

func parseDuration(line, v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, malformed(line, "non-numeric duration %q", v)
	}
	if n < 0 {
		return 0, malformed(line, "negative duration %d", n)
	}
	return n, nil
}
