package httpapi

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageRunes bounds provider text stored as a sync record's last error.
const maxMessageRunes = 300

// strictPolicy strips all markup; provider error pages are often HTML.
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeMessage reduces provider response text to a single short line of
// plain text.
func SanitizeMessage(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")

	if utf8.RuneCountInString(s) <= maxMessageRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxMessageRunes]) + "…"
}
