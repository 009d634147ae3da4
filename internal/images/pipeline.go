// Package images materializes source image URLs into stable, content-addressed
// renditions in object storage, reusing previously produced artifacts across
// runs through a durable (url, slug) cache.
package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"

	"github.com/samuba/blissbase-sub000/internal/metrics"
	"github.com/samuba/blissbase-sub000/internal/models"
)

// Cover rendition dimensions.
const (
	coverWidth  = 900
	coverHeight = 600

	maxImageBytes = 20 << 20
)

// Store defines what the pipeline needs from the durable image cache.
type Store interface {
	// LoadAll returns every cache entry. Called once per run so lookups
	// never hit the database per item.
	LoadAll(ctx context.Context) ([]models.ImageEntry, error)

	// Put records a newly materialized (sourceURL, slug) -> assetURL mapping.
	Put(ctx context.Context, entry models.ImageEntry) error
}

// Uploader publishes a rendition and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Pipeline produces cached image renditions. The cache is keyed by
// (sourceURL, slug) rather than URL alone: the same raw image is re-cropped
// per event, and one event's rendition must never leak onto another's
// identity when slugs regenerate across runs.
type Pipeline struct {
	store    Store
	uploader Uploader
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Collector

	cache map[string]string
}

// New wires an image pipeline. The limiter paces source fetches to stay
// polite to third-party servers; nil disables pacing.
func New(store Store, uploader Uploader, client *http.Client, limiter *rate.Limiter, logger *slog.Logger, collector *metrics.Collector) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Pipeline{
		store:    store,
		uploader: uploader,
		client:   client,
		limiter:  limiter,
		logger:   logger,
		metrics:  collector,
		cache:    make(map[string]string),
	}
}

// Load prefetches the whole cache table into memory.
func (p *Pipeline) Load(ctx context.Context) error {
	entries, err := p.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load image cache: %w", err)
	}
	for _, entry := range entries {
		p.cache[cacheKey(entry.SourceURL, entry.EventSlug)] = entry.AssetURL
	}
	p.logger.Info("image cache loaded", "entries", len(entries))
	return nil
}

// Materialize returns the asset URL for a source image, producing and
// caching a rendition on first sight. A cached pair returns immediately with
// no network traffic. When the freshly published asset cannot be confirmed
// reachable by the warm fetch, the original source URL is returned for this
// run while the mapping is still recorded (the asset exists, it just is not
// confirmed reachable right now).
func (p *Pipeline) Materialize(ctx context.Context, sourceURL, eventSlug string) (string, error) {
	if cached, ok := p.cache[cacheKey(sourceURL, eventSlug)]; ok {
		p.metrics.ImageLookup("hit")
		return cached, nil
	}

	p.metrics.ImageLookup("miss")

	raw, err := p.fetch(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	cover := imaging.Fill(img, coverWidth, coverHeight, imaging.Center, imaging.Lanczos)

	hash, err := goimagehash.PerceptionHash(cover)
	if err != nil {
		return "", fmt.Errorf("failed to hash image: %w", err)
	}

	var encoded bytes.Buffer
	if err := imaging.Encode(&encoded, cover, imaging.JPEG, imaging.JPEGQuality(82)); err != nil {
		return "", fmt.Errorf("failed to encode rendition: %w", err)
	}

	key := fmt.Sprintf("events/%s-%016x.jpg", eventSlug, hash.GetHash())

	assetURL, err := p.uploader.Upload(ctx, key, encoded.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("failed to upload rendition: %w", err)
	}

	entry := models.ImageEntry{
		SourceURL: sourceURL,
		EventSlug: eventSlug,
		AssetURL:  assetURL,
		CreatedAt: time.Now(),
	}
	if err := p.store.Put(ctx, entry); err != nil {
		p.logger.Error("failed to record image cache entry",
			"source_url", sourceURL, "slug", eventSlug, "error", err)
	} else {
		p.cache[cacheKey(sourceURL, eventSlug)] = assetURL
	}

	// One extra fetch against the published URL forces the downstream edge
	// cache to populate.
	if err := p.warm(ctx, assetURL); err != nil {
		p.logger.Warn("warm fetch of new asset failed, falling back to source url",
			"asset_url", assetURL, "error", err)
		return sourceURL, nil
	}

	return assetURL, nil
}

// EnrichImages returns a copy of the event with its image list rewritten to
// cached asset locations. Images that cannot be materialized are dropped from
// the list; nothing here ever fails the event or the run.
func (p *Pipeline) EnrichImages(ctx context.Context, ev models.StoredEvent) models.StoredEvent {
	if len(ev.ImageURLs) == 0 {
		return ev
	}

	rewritten := make([]string, 0, len(ev.ImageURLs))
	for _, sourceURL := range ev.ImageURLs {
		assetURL, err := p.Materialize(ctx, sourceURL, ev.Slug)
		if err != nil {
			p.metrics.ImageLookup("failure")
			p.logger.Warn("dropping image",
				"slug", ev.Slug, "source_url", sourceURL, "error", err)
			continue
		}
		rewritten = append(rewritten, assetURL)
	}

	ev.ImageURLs = rewritten
	return ev
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func (p *Pipeline) warm(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxImageBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func cacheKey(sourceURL, slug string) string {
	return sourceURL + "|" + slug
}

// MemoryStore implements Store in memory for testing/development.
type MemoryStore struct {
	entries []models.ImageEntry
}

// NewMemoryStore creates an empty in-memory image cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadAll returns every entry.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]models.ImageEntry, error) {
	return append([]models.ImageEntry(nil), s.entries...), nil
}

// Put appends an entry.
func (s *MemoryStore) Put(ctx context.Context, entry models.ImageEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

// Size returns the number of entries.
func (s *MemoryStore) Size() int {
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
