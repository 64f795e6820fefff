package helpers

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var fencedBlockRe = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_+.-]*)[ \t]*\r?\n?(.*?)```")

// ExtractJSONObject returns the most plausible JSON object text inside s.
// The first fenced code block whose body is an object wins, whatever its
// language tag; otherwise the substring between the first '{' and the last
// '}' is used. When neither exists the trimmed input is returned unchanged so
// the caller's parser reports the error.
func ExtractJSONObject(s string) string {
	s = trimBOM(strings.TrimSpace(s))
	for _, m := range fencedBlockRe.FindAllStringSubmatch(s, -1) {
		if inner := strings.TrimSpace(m[2]); strings.HasPrefix(inner, "{") {
			return inner
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// RepairJSON applies lossless-ish fixes that models commonly need: it drops a
// leading BOM and stray control characters, escapes raw newlines and tabs that
// appear inside string literals, and removes trailing commas before a closing
// '}' or ']'. String contents are otherwise left untouched.
func RepairJSON(s string) string {
	s = trimBOM(s)
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escape := false
	for i, r := range s {
		if r == '\uFEFF' {
			continue
		}
		// invalid byte; a literal U+FFFD is kept
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		if inString {
			if escape {
				escape = false
				b.WriteRune(r)
				continue
			}
			switch {
			case r == '\\':
				escape = true
				b.WriteRune(r)
			case r == '"':
				inString = false
				b.WriteRune(r)
			case r == '\n':
				b.WriteString(`\n`)
			case r == '\r':
				b.WriteString(`\r`)
			case r == '\t':
				b.WriteString(`\t`)
			case r < 0x20 || r == 0x7f:
			default:
				b.WriteRune(r)
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			b.WriteRune(r)
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return stripTrailingCommas(b.String())
}

// stripTrailingCommas removes ',' tokens that are followed (ignoring
// whitespace) by '}' or ']', skipping anything inside string literals.
func stripTrailingCommas(s string) string {
	out := make([]byte, 0, len(s))
	inString := false
	escape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out = append(out, c)
	}
	return string(out)
}

// trimBOM removes an optional UTF-8 BOM.
func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	// Handle malformed BOM-like prefix (rare)
	if len(s) >= 3 {
		b0, b1, b2 := s[0], s[1], s[2]
		if b0 == 0xEF && b1 == 0xBB && b2 == 0xBF && utf8.ValidString(s[3:]) {
			return s[3:]
		}
	}
	return s
}
