// Package sources holds the source adapters and the static registry that
// maps source names to their constructors.
package sources

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/samuba/blissbase-sub000/internal/extract"
	"github.com/samuba/blissbase-sub000/internal/geocode"
	"github.com/samuba/blissbase-sub000/internal/models"
	"github.com/samuba/blissbase-sub000/internal/pipeline"
)

// ErrNoEvents is returned by an adapter when a configured source yields
// nothing: for a live site that always lists events, zero output means the
// scrape is broken, not the calendar empty.
var ErrNoEvents = errors.New("source produced no events")

// requestDelay paces requests against third-party servers.
const requestDelay = 400 * time.Millisecond

const userAgent = "blissbase-scraper/1.0 (+https://blissbase.de)"

// Deps bundles the collaborators adapters share.
type Deps struct {
	Geocoder  *geocode.Resolver
	Extractor extract.Extractor
	Limiter   *rate.Limiter
	Client    *http.Client
	Logger    *slog.Logger
}

// NewDeps fills in defaults for optional collaborators.
func NewDeps(geocoder *geocode.Resolver, extractor extract.Extractor, logger *slog.Logger) Deps {
	return Deps{
		Geocoder:  geocoder,
		Extractor: extractor,
		Limiter:   rate.NewLimiter(rate.Every(requestDelay), 1),
		Client:    &http.Client{Timeout: 10 * time.Second},
		Logger:    logger,
	}
}

// Factory builds one adapter from shared dependencies.
type Factory func(Deps) pipeline.Adapter

// registry is resolved at init time; there is no dynamic loading.
var registry = map[models.SourceID]Factory{
	models.SourceTribehaus: func(deps Deps) pipeline.Adapter { return NewTribehaus(deps) },
	models.SourceSeijetzt:  func(deps Deps) pipeline.Adapter { return NewSeijetzt(deps) },
}

// Names returns all registered source names, sorted.
func Names() []models.SourceID {
	names := make([]models.SourceID, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Build resolves a source selector to adapters. An empty selector targets
// every registered source; an unknown name falls back to all sources with a
// warning rather than failing the run.
func Build(selector string, deps Deps) []pipeline.Adapter {
	if selector != "" {
		if factory, ok := registry[models.SourceID(selector)]; ok {
			return []pipeline.Adapter{factory(deps)}
		}
		deps.Logger.Warn("unknown source name, scraping all sources",
			"requested", selector,
			"known", Names(),
		)
	}

	adapters := make([]pipeline.Adapter, 0, len(registry))
	for _, name := range Names() {
		adapters = append(adapters, registry[name](deps))
	}
	return adapters
}
