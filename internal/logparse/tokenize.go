package logparse

// token is one whitespace-delimited unit of a text log line. Bracketed
// groups and quoted strings are never split, so "{ a: 1 }" is one token.
type token struct {
	text       string
	start, end int // byte offsets into the tokenized text
}

// tokenize splits text on whitespace that sits outside any {}, [], ()
// group or quoted string. Unbalanced groups run to the end of the text.
func tokenize(text string) []token {
	var (
		tokens []token
		depth  int
		quote  byte
		escape bool
		start  = -1
	)

	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, token{text: text[start:end], start: start, end: end})
			start = -1
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		if quote != 0 {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case ' ', '\t', '\r', '\n':
			if depth == 0 {
				flush(i)
				continue
			}
		case '"', '\'':
			// An apostrophe inside a bare word is not a string delimiter.
			if depth > 0 || start < 0 {
				quote = c
			}
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(text))
	return tokens
}

// isGroup reports whether the token is a bracketed document or array.
func (t token) isGroup() bool {
	return len(t.text) > 0 && (t.text[0] == '{' || t.text[0] == '[')
}
