package validators

import (
	"strings"
	"unicode"
)

// CleanText trims s, drops control characters other than newline and tab,
// and cuts it to maxRunes runes. maxRunes <= 0 means no limit.
func CleanText(s string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(s))
	if maxRunes > 0 {
		if runes := []rune(cleaned); len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return cleaned
}
