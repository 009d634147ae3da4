package pipeline

import (
	"log/slog"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// Deduplicate collapses records sharing a slug down to one, keeping the last
// record encountered in iteration order. Every member of a colliding group is
// logged with its source URL, since a duplicate slug usually means either a
// genuine repeat listing or a naming collision worth investigating.
//
// The operation is idempotent: running it on its own output is a no-op.
func Deduplicate(events []models.StoredEvent, logger *slog.Logger) []models.StoredEvent {
	bySlug := make(map[string][]models.StoredEvent)
	order := make([]string, 0, len(events))

	for _, ev := range events {
		if _, seen := bySlug[ev.Slug]; !seen {
			order = append(order, ev.Slug)
		}
		bySlug[ev.Slug] = append(bySlug[ev.Slug], ev)
	}

	result := make([]models.StoredEvent, 0, len(order))
	for _, slug := range order {
		group := bySlug[slug]
		if len(group) > 1 {
			urls := make([]string, len(group))
			for i, member := range group {
				urls[i] = member.SourceURL
			}
			logger.Warn("duplicate slug, keeping last record",
				"slug", slug,
				"count", len(group),
				"source_urls", urls,
			)
		}
		result = append(result, group[len(group)-1])
	}

	return result
}
