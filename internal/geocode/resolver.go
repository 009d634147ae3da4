package geocode

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samuba/blissbase-sub000/internal/metrics"
	"github.com/samuba/blissbase-sub000/internal/models"
)

// Resolver consults the durable cache before calling the geocoding API and
// writes results (including definitive "not found") back.
//
// There is no locking around the cache: two concurrent lookups for the same
// new address may both miss and both call the API. That costs one redundant
// request, not correctness, and is accepted.
type Resolver struct {
	store    Store
	geocoder Geocoder
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewResolver wires a resolver from its collaborators.
func NewResolver(store Store, geocoder Geocoder, logger *slog.Logger, collector *metrics.Collector) *Resolver {
	return &Resolver{
		store:    store,
		geocoder: geocoder,
		logger:   logger,
		metrics:  collector,
	}
}

// Resolve maps address lines to coordinates, or nil when the address is
// empty, unresolvable, or the lookup failed. Lookup failures are logged and
// swallowed so a single bad address can never abort a batch.
func (r *Resolver) Resolve(ctx context.Context, addressLines []string) *models.Coordinates {
	key := joinAddress(addressLines)
	if key == "" {
		return nil
	}

	entry, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Error("geocode cache read failed", "address", key, "error", err)
	} else if entry != nil {
		r.metrics.GeocodeLookup("hit")
		if !entry.Resolved() {
			// Cached negative result: do not re-trigger the API.
			return nil
		}
		return &models.Coordinates{Latitude: *entry.Latitude, Longitude: *entry.Longitude}
	}

	r.metrics.GeocodeLookup("miss")

	coords, err := r.geocoder.Geocode(ctx, key)
	if err != nil {
		// Transient failure: return nil but leave the cache untouched so a
		// later run retries.
		r.metrics.GeocodeLookup("error")
		r.logger.Warn("geocode lookup failed", "address", key, "error", err)
		return nil
	}

	newEntry := models.GeocodeEntry{Address: key, CreatedAt: time.Now()}
	if coords != nil {
		newEntry.Latitude = &coords.Latitude
		newEntry.Longitude = &coords.Longitude
	} else {
		r.metrics.GeocodeLookup("unresolved")
		r.logger.Info("address not resolvable, caching negative result", "address", key)
	}

	if err := r.store.Put(ctx, newEntry); err != nil {
		r.logger.Error("geocode cache write failed", "address", key, "error", err)
	}

	return coords
}

// joinAddress builds the exact cache key: non-empty trimmed lines joined
// with ", ".
func joinAddress(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}
