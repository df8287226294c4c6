package security

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)
	jsSchemeRe     = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerRe = regexp.MustCompile(`(?i)on\w+\s*=`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Sanitize strips HTML tags, javascript: schemes and inline event-handler
// attributes, then collapses runs of whitespace and trims the result.
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	// Removing one construct can splice together another (e.g. "javajavascript:script:"),
	// so repeat until the text is stable.
	for {
		next := htmlTagRe.ReplaceAllString(text, "")
		next = jsSchemeRe.ReplaceAllString(next, "")
		next = eventHandlerRe.ReplaceAllString(next, "")
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// longestRun returns the length of the longest run of one repeated rune.
func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		longest = max(longest, run)
	}
	return longest
}

// specialRatio is the share of runes in s that are neither ASCII letters,
// ASCII digits nor whitespace.
func specialRatio(s string) float64 {
	total := utf8.RuneCountInString(s)
	if total == 0 {
		return 0
	}
	special := 0
	for _, r := range s {
		switch {
		case r < utf8.RuneSelf && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
		case unicode.IsSpace(r):
		default:
			special++
		}
	}
	return float64(special) / float64(total)
}
