package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMessageLimit caps client-facing error messages.
const DefaultMessageLimit = 300

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every HTML
// element and attribute. It is useful when the output should be treated as
// plain text while ensuring that script/style injections are removed.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s while stripping leading and
// trailing whitespace. It provides a safe plain-text representation of the
// value.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeMessage turns an internal error string into something safe to put
// on the event stream. Markup is removed and whitespace collapsed; entities
// are decoded again because the result travels as JSON, not HTML. The result
// is truncated to limit runes (DefaultMessageLimit when limit <= 0).
func SanitizeMessage(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	s = strings.Join(strings.Fields(html.UnescapeString(SanitizeHTMLStrict(s))), " ")
	if s == "" {
		return "internal error"
	}
	return Truncate(s, limit)
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
