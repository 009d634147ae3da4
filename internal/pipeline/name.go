package pipeline

import (
	"regexp"
	"strings"
)

// soldOutTerms lists the markers recognized in the supported locales.
var soldOutTerms = []string{
	"ausgebucht",
	"ausverkauft",
	"sold[\\s-]?out",
	"fully booked",
}

// soldOutPattern matches a trailing sold-out marker preceded by any mix of
// whitespace, dash-family characters, pipes or brackets. It is anchored to the
// end of the string: mid-string occurrences must never be removed.
var soldOutPattern = regexp.MustCompile(
	`(?i)[\s|\p{Pd}(\[{]*\b(` + strings.Join(soldOutTerms, "|") + `)[\s)\]}]*$`,
)

// NormalizeName strips a trailing sold-out marker from an event name and
// reports whether one was found.
func NormalizeName(name string) (string, bool) {
	cleaned := strings.TrimSpace(soldOutPattern.ReplaceAllString(name, ""))
	if cleaned == strings.TrimSpace(name) {
		return strings.TrimSpace(name), false
	}
	return cleaned, true
}
