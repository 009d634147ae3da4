package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/samuba/blissbase-sub000/internal/htmlutil"
	"github.com/samuba/blissbase-sub000/internal/models"
)

const (
	seijetztBaseURL = "https://sei.jetzt/events"

	// maxPageBytes caps how much of a detail page is read before extraction.
	maxPageBytes = 2 << 20
)

var ogImagePattern = regexp.MustCompile(`<meta[^>]+property="og:image"[^>]+content="([^"]+)"`)

// Seijetzt scrapes the sei.jetzt listing. Its detail pages are free-form
// editor output, so structured fields come from the LLM extractor instead of
// selectors.
type Seijetzt struct {
	deps    Deps
	baseURL string
}

// NewSeijetzt builds the adapter against the live site.
func NewSeijetzt(deps Deps) *Seijetzt {
	return &Seijetzt{deps: deps, baseURL: seijetztBaseURL}
}

// Name implements pipeline.Adapter.
func (s *Seijetzt) Name() models.SourceID {
	return models.SourceSeijetzt
}

// ScrapeWebsite implements pipeline.Adapter. The listing crawl collects
// detail URLs; each detail page is then fetched, reduced to text, and handed
// to the extractor.
func (s *Seijetzt) ScrapeWebsite(ctx context.Context) ([]models.NormalizedEvent, error) {
	if s.deps.Extractor == nil {
		return nil, fmt.Errorf("seijetzt requires an extractor, none configured")
	}

	urls, err := s.collectDetailURLs(ctx)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("seijetzt: %w", ErrNoEvents)
	}

	events := make([]models.NormalizedEvent, 0, len(urls))
	for _, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := s.scrapeDetail(ctx, pageURL)
		if err != nil {
			s.deps.Logger.Warn("skipping seijetzt event", "url", pageURL, "error", err)
			continue
		}
		events = append(events, *event)
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("seijetzt: %w", ErrNoEvents)
	}
	return events, nil
}

func (s *Seijetzt) collectDetailURLs(ctx context.Context) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(15 * time.Second)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: requestDelay}); err != nil {
		return nil, fmt.Errorf("failed to configure crawl limit: %w", err)
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnHTML("a.event-list__entry[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link != "" && !seen[link] {
			seen[link] = true
			urls = append(urls, link)
		}
	})

	c.OnHTML("a.pagination__next[href]", func(e *colly.HTMLElement) {
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			s.deps.Logger.Debug("skipping pagination link", "url", e.Attr("href"), "error", err)
		}
	})

	if err := c.Visit(s.baseURL); err != nil {
		return nil, fmt.Errorf("failed to fetch seijetzt listing: %w", err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (s *Seijetzt) scrapeDetail(ctx context.Context, pageURL string) (*models.NormalizedEvent, error) {
	if err := s.deps.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build detail request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detail page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detail page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read detail page: %w", err)
	}
	page := string(body)

	event, err := s.deps.Extractor.ExtractEvent(ctx, htmlutil.Text(page), pageURL)
	if err != nil {
		return nil, err
	}

	event.Source = models.SourceSeijetzt
	event.SourceURL = pageURL

	if match := ogImagePattern.FindStringSubmatch(page); match != nil {
		event.ImageURLs = append(event.ImageURLs, match[1])
	}

	if event.Latitude == nil {
		if coords := s.deps.Geocoder.Resolve(ctx, event.Address); coords != nil {
			event.Latitude = &coords.Latitude
			event.Longitude = &coords.Longitude
		}
	}

	return event, nil
}
