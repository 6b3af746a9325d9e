// Package sanitize provides text sanitization for free-text fields such as
// review notes and inspector comments.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", "\"",
	"&#39;", "'",
)

// MaxNoteLength bounds stored notes and comments, in runes.
const MaxNoteLength = 2000

// StripHTML removes all HTML tags from a string.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips markup and truncates to MaxNoteLength runes.
func Text(s string) string {
	result := StripHTML(s)
	if utf8.RuneCountInString(result) <= MaxNoteLength {
		return result
	}
	runes := []rune(result)
	return strings.TrimSpace(string(runes[:MaxNoteLength]))
}

// TextPtr sanitizes an optional string. Blank results become nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	result := Text(*s)
	if result == "" {
		return nil
	}
	return &result
}
