// Package redact masks PHI-like substrings before text is displayed.
// It is a presentation helper and makes no de-identification guarantee.
package redact

import (
	"regexp"
	"strings"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order.
var rules = []rule{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b\d{3}[- ]\d{3}[- ]\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "[DATE]"},
}

// Scrub replaces SSN, phone, email and slash-date patterns with placeholders
// and trims surrounding whitespace.
func Scrub(text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return strings.TrimSpace(text)
}

// Preview scrubs text and truncates the result to at most limit runes.
// A non-positive limit disables truncation.
func Preview(text string, limit int) string {
	scrubbed := Scrub(text)
	if limit <= 0 {
		return scrubbed
	}
	runes := []rune(scrubbed)
	if len(runes) <= limit {
		return scrubbed
	}
	return string(runes[:limit])
}
