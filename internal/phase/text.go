package phase

import (
	"strings"
	"unicode/utf8"
)

// TruncateByRunes keeps the first maxRunes runes of s.
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TailByRunes keeps the last maxRunes runes of s, starting at a paragraph or
// sentence boundary when one falls inside the kept part.
func TailByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= maxRunes {
		return s
	}

	skip := total - maxRunes
	n := 0
	cut := len(s)
	for i := range s {
		if n == skip {
			cut = i
			break
		}
		n++
	}
	tail := s[cut:]

	if i := strings.Index(tail, "\n\n"); i >= 0 && i < len(tail)/2 {
		return strings.TrimSpace(tail[i:])
	}
	if i := strings.Index(tail, ". "); i >= 0 && i < len(tail)/2 {
		return strings.TrimSpace(tail[i+1:])
	}
	return strings.TrimSpace(tail)
}

func RuneCount(s string) int {
	return utf8.RuneCountInString(s)
}
