// Package pipeline turns raw adapter output into the reconciled, durable
// event set: normalize, slug, filter, dedupe, enrich, reconcile, persist.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samuba/blissbase-sub000/internal/htmlutil"
	"github.com/samuba/blissbase-sub000/internal/metrics"
	"github.com/samuba/blissbase-sub000/internal/models"
)

// Adapter is the only interface boundary the pipeline depends on. Each
// adapter owns its own pagination, field extraction, locale parsing and
// geocoding; the pipeline owns every derived field.
type Adapter interface {
	// Name returns the stable source identifier for this adapter.
	Name() models.SourceID

	// ScrapeWebsite crawls the source and returns its full current listing.
	ScrapeWebsite(ctx context.Context) ([]models.NormalizedEvent, error)
}

// ImageEnricher rewrites an event's image list to cached asset locations.
type ImageEnricher interface {
	Load(ctx context.Context) error
	EnrichImages(ctx context.Context, ev models.StoredEvent) models.StoredEvent
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// BatchSize bounds upsert batches: small enough that a failed batch is
	// cheap to retry, large enough to amortize connection overhead.
	BatchSize int

	// ProgressEvery controls how often enrichment progress is logged.
	ProgressEvery int
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		BatchSize:     15,
		ProgressEvery: 25,
	}
}

// Summary reports per-stage counts for one run.
type Summary struct {
	RunID         string
	Scraped       int
	Invalid       int
	SpanFiltered  int
	Deduplicated  int
	Persisted     int
	Deleted       int
	FailedSources []models.SourceID
	Duration      time.Duration
}

// Orchestrator fans out to source adapters and drives their output through
// the pipeline stages into the store.
type Orchestrator struct {
	adapters []Adapter
	store    EventStore
	enricher ImageEnricher
	logger   *slog.Logger
	metrics  *metrics.Collector
	config   Config
}

// NewOrchestrator wires an orchestrator. enricher may be nil, in which case
// events keep their original image URLs.
func NewOrchestrator(
	adapters []Adapter,
	store EventStore,
	enricher ImageEnricher,
	logger *slog.Logger,
	collector *metrics.Collector,
	config Config,
) *Orchestrator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = DefaultConfig().ProgressEvery
	}
	return &Orchestrator{
		adapters: adapters,
		store:    store,
		enricher: enricher,
		logger:   logger,
		metrics:  collector,
		config:   config,
	}
}

type sourceResult struct {
	source models.SourceID
	events []models.NormalizedEvent
	err    error
}

// Run executes one scrape-and-reconcile cycle. Source failures are isolated:
// a broken adapter is logged, counted, and excluded from the reconciler's
// refreshed-source set, while every other source proceeds. Persistence
// failures are fatal for the remainder of the run.
//
// With clean set, all stored records of the targeted sources are deleted
// before the upserts are applied.
func (o *Orchestrator) Run(ctx context.Context, clean bool) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := o.logger.With("run_id", summary.RunID)

	sources := make([]models.SourceID, len(o.adapters))
	for i, adapter := range o.adapters {
		sources[i] = adapter.Name()
	}
	logger.Info("starting run", "sources", sources, "clean", clean)

	results := o.scrapeAll(ctx, logger)

	refreshed := make([]models.SourceID, 0, len(results))
	var raw []models.NormalizedEvent
	for _, res := range results {
		if res.err != nil {
			summary.FailedSources = append(summary.FailedSources, res.source)
			o.metrics.SourceFailed(string(res.source))
			logger.Error("source failed", "source", res.source, "error", res.err)
			continue
		}
		refreshed = append(refreshed, res.source)
		raw = append(raw, res.events...)
		o.metrics.EventsScraped(string(res.source), len(res.events))
	}
	summary.Scraped = len(raw)
	logger.Info("scraping complete",
		"events", len(raw),
		"sources_ok", len(refreshed),
		"sources_failed", len(summary.FailedSources),
	)

	events := o.normalize(raw, logger, &summary)

	filtered := FilterSpans(events, logger)
	summary.SpanFiltered = len(events) - len(filtered)
	o.metrics.EventsSpanFiltered(summary.SpanFiltered)

	deduped := Deduplicate(filtered, logger)
	summary.Deduplicated = len(filtered) - len(deduped)
	o.metrics.EventsDeduplicated(summary.Deduplicated)

	if clean {
		// Clean is an explicit operator request and covers every targeted
		// source, including ones that just failed to scrape. Those sources
		// end the run with nothing re-inserted, so say so loudly.
		if len(summary.FailedSources) > 0 {
			logger.Warn("clean requested with failed sources, their stored events are deleted without replacement",
				"failed_sources", summary.FailedSources)
		}
		deleted, err := o.store.DeleteBySources(ctx, sources)
		if err != nil {
			return summary, fmt.Errorf("failed to clean sources: %w", err)
		}
		logger.Info("cleaned stored events", "sources", sources, "deleted", deleted)
	}

	if summary.Scraped == 0 {
		// Not an error in itself: the per-adapter "expected at least one
		// event" check already surfaced broken sources above.
		logger.Info("no events to process")
		summary.Duration = time.Since(start)
		return summary, nil
	}

	deduped = o.enrich(ctx, deduped, logger)

	currentSlugs := make(map[string]bool, len(deduped))
	for _, ev := range deduped {
		currentSlugs[ev.Slug] = true
	}

	deleted, err := Reconcile(ctx, o.store, refreshed, currentSlugs, logger)
	if err != nil {
		return summary, fmt.Errorf("failed to reconcile stale events: %w", err)
	}
	summary.Deleted = deleted
	o.metrics.EventsDeleted(deleted)

	if err := o.persist(ctx, deduped, logger, &summary); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	logger.Info("run complete",
		"scraped", summary.Scraped,
		"invalid", summary.Invalid,
		"span_filtered", summary.SpanFiltered,
		"deduplicated", summary.Deduplicated,
		"persisted", summary.Persisted,
		"deleted", summary.Deleted,
		"duration", summary.Duration,
	)

	return summary, nil
}

// scrapeAll invokes every adapter concurrently and collects per-source
// results. A panicking adapter is converted into a source failure instead of
// taking down the run.
func (o *Orchestrator) scrapeAll(ctx context.Context, logger *slog.Logger) []sourceResult {
	results := make([]sourceResult, len(o.adapters))
	var wg sync.WaitGroup

	for i, adapter := range o.adapters {
		wg.Add(1)

		go func(i int, adapter Adapter) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = sourceResult{
						source: adapter.Name(),
						err:    fmt.Errorf("adapter panicked: %v", r),
					}
				}
			}()

			start := time.Now()
			logger.Info("scraping source", "source", adapter.Name())

			events, err := adapter.ScrapeWebsite(ctx)
			results[i] = sourceResult{source: adapter.Name(), events: events, err: err}

			if err == nil {
				logger.Info("source scraped",
					"source", adapter.Name(),
					"events", len(events),
					"duration", time.Since(start),
				)
			}
		}(i, adapter)
	}

	wg.Wait()
	return results
}

// normalize derives the pipeline-owned fields and drops unusable records.
func (o *Orchestrator) normalize(raw []models.NormalizedEvent, logger *slog.Logger, summary *Summary) []models.StoredEvent {
	events := make([]models.StoredEvent, 0, len(raw))

	for _, rec := range raw {
		cleaned, soldOut := NormalizeName(rec.Name)
		rec.Name = cleaned

		if rec.DescriptionIsHTML {
			rec.Description = htmlutil.Sanitize(rec.Description)
		}

		if err := rec.Validate(); err != nil {
			summary.Invalid++
			o.metrics.EventInvalid()
			logger.Info("dropping invalid event",
				"source", rec.Source, "source_url", rec.SourceURL, "error", err)
			continue
		}

		events = append(events, models.StoredEvent{
			NormalizedEvent: rec,
			Slug:            Slug(rec.Name, rec.StartAt),
			SoldOut:         soldOut,
			Listed:          true,
		})
	}

	return events
}

// enrich rewrites image lists through the image cache, sequentially with
// visible progress checkpoints.
func (o *Orchestrator) enrich(ctx context.Context, events []models.StoredEvent, logger *slog.Logger) []models.StoredEvent {
	if o.enricher == nil {
		return events
	}

	// A failed prefetch only costs redundant re-materialization; the cache
	// table upserts, so records stay consistent.
	if err := o.enricher.Load(ctx); err != nil {
		logger.Warn("image cache prefetch failed", "error", err)
	}

	enriched := make([]models.StoredEvent, len(events))
	for i, ev := range events {
		enriched[i] = o.enricher.EnrichImages(ctx, ev)

		if (i+1)%o.config.ProgressEvery == 0 {
			logger.Info("image enrichment progress", "done", i+1, "total", len(events))
		}
	}
	return enriched
}

// persist upserts in bounded batches, aborting the rest of the run on the
// first failed batch: partial persistence with an unlogged gap is worse than
// a visible hard stop, and re-runs are safe because upserts are idempotent
// by slug.
func (o *Orchestrator) persist(ctx context.Context, events []models.StoredEvent, logger *slog.Logger, summary *Summary) error {
	for offset := 0; offset < len(events); offset += o.config.BatchSize {
		end := offset + o.config.BatchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[offset:end]

		if err := o.store.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to persist batch %d-%d of %d: %w", offset, end, len(events), err)
		}

		summary.Persisted += len(batch)
		o.metrics.EventsPersisted(len(batch))
		logger.Info("batch persisted", "done", summary.Persisted, "total", len(events))
	}

	return nil
}
