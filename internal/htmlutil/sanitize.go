// Package htmlutil cleans HTML fragments scraped from event pages.
package htmlutil

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizePolicy = bluemonday.UGCPolicy()
	textPolicy     = bluemonday.StrictPolicy()

	whitespaceRuns = regexp.MustCompile(`[ \t]+`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
	blockBreaks    = regexp.MustCompile(`(?i)<(?:br\s*/?|/p|/div|/li|/h[1-6])>`)
)

// Sanitize strips dangerous markup from an HTML fragment while keeping the
// user-generated-content tags used in event descriptions.
func Sanitize(fragment string) string {
	return strings.TrimSpace(sanitizePolicy.Sanitize(fragment))
}

// Text converts an HTML fragment to plain text: all tags removed, entities
// decoded, whitespace normalized.
func Text(fragment string) string {
	// Turn block boundaries into newlines before the tags disappear.
	withBreaks := blockBreaks.ReplaceAllString(fragment, "\n")
	stripped := textPolicy.Sanitize(withBreaks)
	decoded := html.UnescapeString(stripped)
	decoded = whitespaceRuns.ReplaceAllString(decoded, " ")
	decoded = blankLines.ReplaceAllString(decoded, "\n\n")

	lines := strings.Split(decoded, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
