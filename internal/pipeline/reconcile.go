package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// Reconcile deletes stored records that belong to one of the refreshed
// sources but are absent from this run's slug set. Records of sources not
// refreshed in this run are never touched, and neither are past events:
// a record whose start lies before the start of the current day stays in the
// store as history even when its source no longer lists it.
func Reconcile(
	ctx context.Context,
	store EventStore,
	refreshed []models.SourceID,
	currentSlugs map[string]bool,
	logger *slog.Logger,
) (int, error) {
	if len(refreshed) == 0 {
		return 0, nil
	}

	identities, err := store.ListIdentities(ctx, refreshed)
	if err != nil {
		return 0, err
	}

	now := nowFunc()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stale := make([]string, 0)
	for _, id := range identities {
		if currentSlugs[id.Slug] {
			continue
		}
		if id.StartAt.Before(today) {
			continue
		}
		stale = append(stale, id.Slug)
	}

	if len(stale) == 0 {
		return 0, nil
	}

	logger.Info("deleting stale events", "count", len(stale), "slugs", stale)

	return store.DeleteBySlugs(ctx, stale)
}
