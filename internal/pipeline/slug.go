package pipeline

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// germanReplacer expands locale-specific letters before generic diacritic
// stripping, so "müller" becomes "mueller" rather than "muller".
var germanReplacer = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

// stripMarks removes combining marks after canonical decomposition.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug derives the deterministic identity key for an event from its name and
// start instant: slugified name, start date and zero-padded start time joined
// with hyphens. Two events with identical name and start minute collide by
// design; the deduplicator treats that as a duplicate, not an error.
func Slug(name string, startAt time.Time) string {
	parts := make([]string, 0, 3)
	if base := Slugify(name); base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, startAt.Format("2006-01-02"), startAt.Format("1504"))
	return strings.Join(parts, "-")
}

// Slugify lowercases, transliterates, strips everything outside [a-z0-9 ] and
// collapses whitespace runs to single hyphens.
func Slugify(name string) string {
	lowered := strings.ToLower(name)
	lowered = germanReplacer.Replace(lowered)

	decomposed, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		// NFD cannot fail on valid UTF-8; fall back to the untransformed text.
		decomposed = lowered
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), "-")
}
