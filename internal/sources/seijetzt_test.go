package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samuba/blissbase-sub000/internal/extract"
	"github.com/samuba/blissbase-sub000/internal/models"
)

func TestSeijetztScrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			fmt.Fprint(w, `<html><body>
				<a class="event-list__entry" href="/events/vollmond-kreis">Vollmond</a>
				<a class="event-list__entry" href="/events/vollmond-kreis">Vollmond wieder</a>
				</body></html>`)
		case "/events/vollmond-kreis":
			fmt.Fprint(w, `<html><head>
				<meta property="og:image" content="https://cdn.sei.jetzt/vollmond.jpg">
				</head><body><div>Vollmond Kreis am See, 21:00</div></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	startAt := time.Date(2026, 10, 5, 21, 0, 0, 0, time.UTC)
	mock := extract.NewMockExtractor()
	mock.Events[server.URL+"/events/vollmond-kreis"] = &models.NormalizedEvent{
		Name:    "Vollmond Kreis",
		StartAt: startAt,
		Address: []string{"Seeufer", "Starnberg"},
	}

	geocoder := &stubGeocoder{}
	deps := testDeps(t, geocoder)
	deps.Extractor = mock

	adapter := NewSeijetzt(deps)
	adapter.baseURL = server.URL + "/events"

	events, err := adapter.ScrapeWebsite(context.Background())
	if err != nil {
		t.Fatalf("ScrapeWebsite() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (listing links deduplicated)", len(events))
	}
	if mock.Calls != 1 {
		t.Errorf("extractor calls = %d, want 1", mock.Calls)
	}

	ev := events[0]
	if ev.Name != "Vollmond Kreis" || !ev.StartAt.Equal(startAt) {
		t.Errorf("event = %+v", ev)
	}
	if ev.Source != models.SourceSeijetzt {
		t.Errorf("Source = %q", ev.Source)
	}
	if ev.SourceURL != server.URL+"/events/vollmond-kreis" {
		t.Errorf("SourceURL = %q", ev.SourceURL)
	}
	if len(ev.ImageURLs) != 1 || ev.ImageURLs[0] != "https://cdn.sei.jetzt/vollmond.jpg" {
		t.Errorf("ImageURLs = %v", ev.ImageURLs)
	}
	if ev.Latitude == nil || geocoder.calls != 1 {
		t.Errorf("Latitude = %v, geocoder calls = %d", ev.Latitude, geocoder.calls)
	}
}

func TestSeijetztExtractorFailureSkipsEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			fmt.Fprint(w, `<html><body>
				<a class="event-list__entry" href="/events/a">A</a>
				</body></html>`)
		default:
			fmt.Fprint(w, `<html><body>detail</body></html>`)
		}
	}))
	defer server.Close()

	mock := extract.NewMockExtractor()
	mock.Err = errors.New("model unavailable")

	deps := testDeps(t, &stubGeocoder{})
	deps.Extractor = mock

	adapter := NewSeijetzt(deps)
	adapter.baseURL = server.URL + "/events"

	if _, err := adapter.ScrapeWebsite(context.Background()); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("ScrapeWebsite() error = %v, want ErrNoEvents", err)
	}
}

func TestSeijetztEmptyListingFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body></body></html>`)
	}))
	defer server.Close()

	adapter := NewSeijetzt(testDeps(t, &stubGeocoder{}))
	adapter.baseURL = server.URL + "/events"

	if _, err := adapter.ScrapeWebsite(context.Background()); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("ScrapeWebsite() error = %v, want ErrNoEvents", err)
	}
}

func TestRegistryBuild(t *testing.T) {
	deps := testDeps(t, &stubGeocoder{})

	all := Build("", deps)
	if len(all) != 2 {
		t.Fatalf("Build(\"\") returned %d adapters, want 2", len(all))
	}
	if all[0].Name() != models.SourceSeijetzt || all[1].Name() != models.SourceTribehaus {
		t.Errorf("adapter order = %v, %v", all[0].Name(), all[1].Name())
	}

	one := Build("tribehaus", deps)
	if len(one) != 1 || one[0].Name() != models.SourceTribehaus {
		t.Fatalf("Build(\"tribehaus\") = %v", one)
	}

	// Unknown names fall back to everything instead of aborting the run.
	fallback := Build("does-not-exist", deps)
	if len(fallback) != 2 {
		t.Fatalf("Build(unknown) returned %d adapters, want 2", len(fallback))
	}
}
