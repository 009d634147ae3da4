package sources

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/samuba/blissbase-sub000/internal/models"
)

const tribehausBaseURL = "https://tribehaus.org/events"

// Tribehaus crawls the tribehaus event listing. Detail pages carry structured
// markup, so fields come from selectors rather than the LLM extractor.
type Tribehaus struct {
	deps    Deps
	baseURL string

	mu     sync.Mutex
	events []models.NormalizedEvent
}

// NewTribehaus builds the adapter against the live site.
func NewTribehaus(deps Deps) *Tribehaus {
	return &Tribehaus{deps: deps, baseURL: tribehausBaseURL}
}

// Name implements pipeline.Adapter.
func (t *Tribehaus) Name() models.SourceID {
	return models.SourceTribehaus
}

// ScrapeWebsite implements pipeline.Adapter. It walks every listing page,
// visits each event detail page, and geocodes the addresses it finds.
func (t *Tribehaus) ScrapeWebsite(ctx context.Context) ([]models.NormalizedEvent, error) {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()

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

	c.OnHTML("a.event-card__link[href]", func(e *colly.HTMLElement) {
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			t.deps.Logger.Debug("skipping event link", "url", e.Attr("href"), "error", err)
		}
	})

	c.OnHTML("a.pagination__next[href]", func(e *colly.HTMLElement) {
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			t.deps.Logger.Debug("skipping pagination link", "url", e.Attr("href"), "error", err)
		}
	})

	c.OnHTML("article.event-detail", func(e *colly.HTMLElement) {
		event := t.parseDetail(e)
		if event == nil {
			return
		}
		t.mu.Lock()
		t.events = append(t.events, *event)
		t.mu.Unlock()
	})

	var crawlErr error
	c.OnError(func(r *colly.Response, err error) {
		t.deps.Logger.Warn("tribehaus request failed",
			"url", r.Request.URL.String(),
			"status", r.StatusCode,
			"error", err,
		)
		if r.Request.URL.String() == t.baseURL {
			crawlErr = err
		}
	})

	if err := c.Visit(t.baseURL); err != nil {
		return nil, fmt.Errorf("failed to fetch tribehaus listing: %w", err)
	}
	c.Wait()

	if crawlErr != nil {
		return nil, fmt.Errorf("failed to fetch tribehaus listing: %w", crawlErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	events := t.events
	t.events = nil
	t.mu.Unlock()

	if len(events) == 0 {
		return nil, fmt.Errorf("tribehaus: %w", ErrNoEvents)
	}

	for i := range events {
		if events[i].Latitude != nil {
			continue
		}
		if coords := t.deps.Geocoder.Resolve(ctx, events[i].Address); coords != nil {
			events[i].Latitude = &coords.Latitude
			events[i].Longitude = &coords.Longitude
		}
	}

	return events, nil
}

func (t *Tribehaus) parseDetail(e *colly.HTMLElement) *models.NormalizedEvent {
	name := strings.TrimSpace(e.ChildText("h1.event-detail__title"))
	startAt, err := parseTimeAttr(e.ChildAttr("time.event-detail__start", "datetime"))
	if err != nil {
		t.deps.Logger.Warn("tribehaus event without usable start time",
			"url", e.Request.URL.String(),
			"error", err,
		)
		return nil
	}

	event := models.NormalizedEvent{
		Name:      name,
		StartAt:   startAt,
		Source:    models.SourceTribehaus,
		SourceURL: e.Request.URL.String(),
	}

	if endAt, err := parseTimeAttr(e.ChildAttr("time.event-detail__end", "datetime")); err == nil {
		event.EndAt = &endAt
	}

	e.ForEach("ul.event-detail__location li", func(_ int, li *colly.HTMLElement) {
		if line := strings.TrimSpace(li.Text); line != "" {
			event.Address = append(event.Address, line)
		}
	})

	if html, err := e.DOM.Find("div.event-detail__description").Html(); err == nil {
		if trimmed := strings.TrimSpace(html); trimmed != "" {
			event.Description = trimmed
			event.DescriptionIsHTML = true
		}
	}

	if price := strings.TrimSpace(e.ChildText("span.event-detail__price")); price != "" {
		event.Price = price
	}

	e.ForEach("img.event-detail__image[src]", func(_ int, img *colly.HTMLElement) {
		if src := img.Request.AbsoluteURL(img.Attr("src")); src != "" {
			event.ImageURLs = append(event.ImageURLs, src)
		}
	})

	if host := strings.TrimSpace(e.ChildText("a.event-detail__host")); host != "" {
		event.Host = &host
		if link := e.Request.AbsoluteURL(e.ChildAttr("a.event-detail__host", "href")); link != "" {
			event.HostLink = &link
		}
	}

	e.ForEach("span.event-detail__tag", func(_ int, tag *colly.HTMLElement) {
		if text := strings.TrimSpace(tag.Text); text != "" {
			event.Tags = append(event.Tags, strings.ToLower(text))
		}
	})

	e.ForEach("a.event-detail__contact[href]", func(_ int, a *colly.HTMLElement) {
		href := strings.TrimPrefix(strings.TrimPrefix(a.Attr("href"), "mailto:"), "tel:")
		if href = strings.TrimSpace(href); href != "" {
			event.Contact = append(event.Contact, href)
		}
	})

	return &event
}

// parseTimeAttr accepts the datetime formats the site has been observed to
// emit in its <time> elements.
func parseTimeAttr(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime attribute")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}
