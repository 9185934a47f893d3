// Package queryshape derives literal-insensitive shapes from command text.
//
// A shape is the structural skeleton of a command: field names, operator
// names and nesting survive, every literal scalar becomes "?". Two commands
// that differ only in literal values share a shape and therefore a key.
package queryshape

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// Placeholder replaces every literal scalar in a skeleton.
const Placeholder = "?"

// extTypeKeys are Extended JSON type wrappers. A document whose only key is
// one of these is a literal, whatever its content.
var extTypeKeys = map[string]bool{
	"$oid":               true,
	"$date":              true,
	"$numberLong":        true,
	"$numberInt":         true,
	"$numberDouble":      true,
	"$numberDecimal":     true,
	"$binary":            true,
	"$timestamp":         true,
	"$regularExpression": true,
	"$regex":             true,
	"$symbol":            true,
	"$code":              true,
	"$minKey":            true,
	"$maxKey":            true,
	"$undefined":         true,
	"$uuid":              true,
}

// Normalize returns the shape key of rec. The untruncated command text is
// used when available so that the char limit never affects grouping.
func Normalize(rec model.SlowQueryRecord) string {
	return Key(rec.Operation, rec.Namespace, Skeleton(commandText(rec)))
}

// Apply sets rec.Shape and rec.ShapeKey.
func Apply(rec *model.SlowQueryRecord) {
	rec.Shape = Skeleton(commandText(*rec))
	rec.ShapeKey = Key(rec.Operation, rec.Namespace, rec.Shape)
}

func commandText(rec model.SlowQueryRecord) string {
	if rec.FullCommandText != "" {
		return rec.FullCommandText
	}
	return rec.CommandText
}

// Key hashes operation, namespace and skeleton into a 32 hex digit key.
func Key(op model.Operation, ns, skeleton string) string {
	h := xxh3.HashString128(string(op) + "\x00" + ns + "\x00" + skeleton)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Skeleton renders the structure of text with literals replaced. It never
// fails: unbalanced groups are closed at end of input and empty input
// yields an empty skeleton.
func Skeleton(text string) string {
	w := &walker{s: text}
	var parts []string
	for {
		w.skipSpace()
		if w.eof() {
			break
		}
		parts = append(parts, w.topLevel())
	}
	return strings.Join(parts, " ")
}

type walker struct {
	s   string
	pos int
}

func (w *walker) eof() bool { return w.pos >= len(w.s) }

func (w *walker) peek() byte { return w.s[w.pos] }

func (w *walker) skipSpace() {
	for !w.eof() {
		switch w.peek() {
		case ' ', '\t', '\r', '\n':
			w.pos++
		default:
			return
		}
	}
}

// skipSeparators skips whitespace and commas between container elements.
func (w *walker) skipSeparators() {
	for !w.eof() {
		switch w.peek() {
		case ' ', '\t', '\r', '\n', ',':
			w.pos++
		default:
			return
		}
	}
}

// topLevel handles one item outside any group. Bare words there are
// command names or field labels ("find", "update:") and are kept.
func (w *walker) topLevel() string {
	switch c := w.peek(); c {
	case '{', '[':
		return w.value()
	case '"', '\'':
		w.quoted()
		return Placeholder
	case '}', ']', ',', ':':
		w.pos++
		return string(c)
	}
	word := w.bareword()
	if word == "" {
		w.pos++
		return Placeholder
	}
	if isLiteralWord(word) {
		return Placeholder
	}
	if !w.eof() && w.peek() == ':' {
		w.pos++
		return word + ":"
	}
	return word
}

func (w *walker) value() string {
	w.skipSpace()
	if w.eof() {
		return Placeholder
	}
	switch w.peek() {
	case '{':
		return w.object()
	case '[':
		return w.array()
	case '"', '\'':
		w.quoted()
		return Placeholder
	case '/':
		w.regex()
		return Placeholder
	}
	word := w.bareword()
	if word == "new" {
		// new Date(...)
		w.skipSpace()
		w.bareword()
	}
	if word == "" && !w.eof() {
		// Stray delimiter; consume so the walk always advances.
		switch w.peek() {
		case '}', ']':
		default:
			w.pos++
		}
	}
	return Placeholder
}

func (w *walker) object() string {
	w.pos++ // {
	type field struct{ key, val string }
	var fields []field
	for {
		w.skipSeparators()
		if w.eof() {
			break
		}
		if w.peek() == '}' {
			w.pos++
			break
		}
		if w.peek() == ']' {
			// Mismatched close; treat as end of this object.
			w.pos++
			break
		}

		var key string
		if c := w.peek(); c == '"' || c == '\'' {
			key = w.quoted()
		} else {
			key = w.key()
		}
		w.skipSpace()
		if key == "" && !w.eof() && w.peek() != ':' {
			w.value() // stray value without a key
			continue
		}
		val := Placeholder
		if !w.eof() && w.peek() == ':' {
			w.pos++
			val = w.value()
		}
		if key == "" && val == Placeholder {
			continue
		}
		fields = append(fields, field{key, val})
	}

	if len(fields) == 1 && extTypeKeys[fields[0].key] {
		return Placeholder
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(renderKey(f.key))
		b.WriteByte(':')
		b.WriteString(f.val)
	}
	b.WriteByte('}')
	return b.String()
}

func (w *walker) array() string {
	w.pos++ // [
	var elems []string
	for {
		w.skipSeparators()
		if w.eof() {
			break
		}
		if c := w.peek(); c == ']' || c == '}' {
			w.pos++
			break
		}
		v := w.value()
		if len(elems) > 0 && elems[len(elems)-1] == v {
			continue
		}
		elems = append(elems, v)
	}
	return "[" + strings.Join(elems, ",") + "]"
}

// quoted consumes a quoted string and returns its unescaped-enough content.
func (w *walker) quoted() string {
	q := w.peek()
	w.pos++
	var b strings.Builder
	for !w.eof() {
		c := w.peek()
		w.pos++
		switch {
		case c == '\\' && !w.eof():
			b.WriteByte(w.peek())
			w.pos++
		case c == q:
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// renderKey quotes field names that contain skeleton syntax so that such a
// key cannot read as a different structure. Plain names stay bare.
func renderKey(k string) string {
	if k == "" || strings.ContainsAny(k, ",:{}[]\"'?/ \t\r\n") {
		return strconv.Quote(k)
	}
	return k
}

// regex consumes a shell regular expression literal /pattern/flags. A
// slash inside a character class or after a backslash does not end it;
// an unterminated literal runs to end of input.
func (w *walker) regex() {
	w.pos++ // opening /
	inClass := false
	for !w.eof() {
		c := w.peek()
		w.pos++
		switch {
		case c == '\\':
			if !w.eof() {
				w.pos++
			}
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			for !w.eof() && isFlag(w.peek()) {
				w.pos++
			}
			return
		}
	}
}

func isFlag(c byte) bool {
	return c >= 'a' && c <= 'z'
}

// key reads an unquoted field name.
func (w *walker) key() string {
	start := w.pos
	for !w.eof() {
		switch w.peek() {
		case ':', ',', '{', '}', '[', ']', ' ', '\t', '\r', '\n':
			return w.s[start:w.pos]
		}
		w.pos++
	}
	return w.s[start:w.pos]
}

// bareword reads an unquoted literal. Parenthesised arguments such as
// ObjectId('...') or Timestamp(1, 2) belong to the word.
func (w *walker) bareword() string {
	start := w.pos
	for !w.eof() {
		switch w.peek() {
		case ',', '{', '}', '[', ']', ':', ' ', '\t', '\r', '\n':
			return w.s[start:w.pos]
		case '(':
			w.skipParens()
			continue
		}
		w.pos++
	}
	return w.s[start:w.pos]
}

func (w *walker) skipParens() {
	depth := 0
	for !w.eof() {
		c := w.peek()
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case '"', '\'':
			w.quoted()
			continue
		}
		w.pos++
		if depth == 0 {
			return
		}
	}
}

// isLiteralWord reports whether a top-level word is a value rather than a
// name: numbers, booleans, null.
func isLiteralWord(word string) bool {
	switch word {
	case "true", "false", "null":
		return true
	}
	c := word[0]
	return (c >= '0' && c <= '9') || ((c == '-' || c == '+' || c == '.') && len(word) > 1)
}
