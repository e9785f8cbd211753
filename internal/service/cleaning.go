package service

import (
	"strings"
	"unicode"
)

// DefaultMaxInputChars bounds text sent to a provider.
const DefaultMaxInputChars = 8000

// CleanText normalizes whitespace before embedding. Tabs and runs of spaces
// become one space, runs of line breaks become one newline, and the result
// is trimmed and cut to at most maxChars characters. A non-positive
// maxChars disables truncation.
func CleanText(text string, maxChars int) string {
	var b strings.Builder
	b.Grow(len(text))

	var pendingSpace, pendingNewline bool
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == '\u2028' || r == '\u2029':
			pendingNewline = true
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if b.Len() > 0 {
				if pendingNewline {
					b.WriteByte('\n')
				} else if pendingSpace {
					b.WriteByte(' ')
				}
			}
			pendingSpace, pendingNewline = false, false
			b.WriteRune(r)
		}
	}

	return strings.TrimRightFunc(TruncateRunes(b.String(), maxChars), unicode.IsSpace)
}

// TruncateRunes cuts s to at most max characters without splitting a
// multi-byte sequence.
func TruncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
