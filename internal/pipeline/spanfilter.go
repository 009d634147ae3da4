package pipeline

import (
	"log/slog"
	"math"
	"time"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// MaxSpanDays is the longest start-to-end span (in calendar days) an event may
// cover before it is treated as a mis-scraped recurring listing and dropped.
const MaxSpanDays = 60

// FilterSpans drops records whose end timestamp lies more than MaxSpanDays
// calendar days after the start. The span is measured between calendar dates
// in the event's own zone, not as raw elapsed time, so an event ending one
// second into day 61 is still out.
func FilterSpans(events []models.StoredEvent, logger *slog.Logger) []models.StoredEvent {
	kept := make([]models.StoredEvent, 0, len(events))

	for _, ev := range events {
		if ev.EndAt != nil {
			days := calendarDays(ev.StartAt, *ev.EndAt)
			if days > MaxSpanDays {
				logger.Info("dropping event spanning too many days",
					"slug", ev.Slug,
					"source_url", ev.SourceURL,
					"days", days,
				)
				continue
			}
		}
		kept = append(kept, ev)
	}

	return kept
}

// calendarDays counts whole calendar days between the dates of from and to,
// evaluated in from's location.
func calendarDays(from, to time.Time) int {
	loc := from.Location()
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	toLocal := to.In(loc)
	toDay := time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day(), 0, 0, 0, 0, loc)
	// Round to absorb the odd DST hour inside the span.
	return int(math.Round(toDay.Sub(fromDay).Hours() / 24))
}
