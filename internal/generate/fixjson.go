package generate

import (
	"strings"
	"unicode"
)

// FixJSON repairs common defects in model-produced JSON: missing commas
// between members or elements, on the same line or across lines, and raw
// control characters inside string values. Text outside the outermost
// object or array is left alone. Well-formed input is returned unchanged.
func FixJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var (
		inString bool
		escaped  bool
		depth    int
		// last non-space rune written outside a string; '"' after a string closes
		last rune
		// whitespace seen outside strings, held back so a comma lands before it
		gap strings.Builder
	)
	flush := func() {
		b.WriteString(gap.String())
		gap.Reset()
	}
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				inString = false
				last = '"'
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}
		if unicode.IsSpace(r) {
			gap.WriteRune(r)
			continue
		}
		switch r {
		case '"':
			if depth > 0 && endsValue(last) {
				b.WriteByte(',')
			}
			inString = true
		case '{', '[':
			if depth > 0 && endsValue(last) {
				b.WriteByte(',')
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
		flush()
		b.WriteRune(r)
		if r != '"' {
			last = r
		}
	}
	flush()
	return b.String()
}

// endsValue reports whether r can close a JSON value, so a following string
// or container needs a comma first.
func endsValue(r rune) bool {
	switch {
	case r == '"', r == '}', r == ']':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == 'e', r == 'l':
		// true, false, null
		return true
	}
	return false
}
