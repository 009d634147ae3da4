package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/samuba/blissbase-sub000/internal/models"
)

type fakeAdapter struct {
	name   models.SourceID
	events []models.NormalizedEvent
	err    error
	panics bool
}

func (f *fakeAdapter) Name() models.SourceID { return f.name }

func (f *fakeAdapter) ScrapeWebsite(ctx context.Context) ([]models.NormalizedEvent, error) {
	if f.panics {
		panic("adapter exploded")
	}
	return f.events, f.err
}

type failingStore struct {
	*MemoryEventStore
	failAfter int
	batches   int
}

func (s *failingStore) UpsertBatch(ctx context.Context, events []models.StoredEvent) error {
	s.batches++
	if s.batches > s.failAfter {
		return fmt.Errorf("connection reset")
	}
	return s.MemoryEventStore.UpsertBatch(ctx, events)
}

func normalized(name string, startAt time.Time, source models.SourceID, sourceURL string) models.NormalizedEvent {
	return models.NormalizedEvent{
		Name:      name,
		StartAt:   startAt,
		Source:    source,
		SourceURL: sourceURL,
	}
}

func TestRunEndToEndDuplicateCollapse(t *testing.T) {
	startAt := time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC)
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	first := normalized("Meditation Workshop", startAt, models.SourceTribehaus, "https://tribehaus.test/events/1")
	first.Description = "old text"
	second := normalized("Meditation Workshop", startAt, models.SourceTribehaus, "https://tribehaus.test/events/1-moved")
	second.Description = "new text"

	store := NewMemoryEventStore()
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{first, second}}},
		store, nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Scraped != 2 || summary.Deduplicated != 1 || summary.Persisted != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if store.Size() != 1 {
		t.Fatalf("expected exactly one stored row, got %d", store.Size())
	}

	stored := store.Get("meditation-workshop-2025-07-04-1800")
	if stored == nil {
		t.Fatal("expected record under derived slug")
	}
	if stored.Description != "new text" {
		t.Errorf("expected last-seen record's fields, got description %q", stored.Description)
	}
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC)

	store := NewMemoryEventStore()
	// A stale seijetzt record that would be deleted if seijetzt were treated
	// as refreshed despite its failure.
	seedEvent(store, "orphan-2025-07-09-1800", models.SourceSeijetzt, startAt.AddDate(0, 0, -1))

	adapters := []Adapter{
		&fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{
			normalized("Yoga", startAt, models.SourceTribehaus, "https://tribehaus.test/1"),
		}},
		&fakeAdapter{name: models.SourceSeijetzt, err: fmt.Errorf("site unreachable")},
	}

	o := NewOrchestrator(adapters, store, nil, testLogger(), nil, DefaultConfig())

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(summary.FailedSources) != 1 || summary.FailedSources[0] != models.SourceSeijetzt {
		t.Errorf("unexpected failed sources: %v", summary.FailedSources)
	}
	if summary.Persisted != 1 {
		t.Errorf("surviving source should persist, got %d", summary.Persisted)
	}
	if store.Get("orphan-2025-07-09-1800") == nil {
		t.Error("failed source's stored events must not be reconciled away")
	}
}

func TestRunRecoversPanickingAdapter(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, panics: true}},
		NewMemoryEventStore(), nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.FailedSources) != 1 {
		t.Errorf("panicking adapter should count as failed source: %+v", summary)
	}
}

func TestRunDropsInvalidAndDerivesFields(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC)

	events := []models.NormalizedEvent{
		normalized("Yoga Class - Ausgebucht", startAt, models.SourceTribehaus, "https://tribehaus.test/1"),
		normalized("", startAt, models.SourceTribehaus, "https://tribehaus.test/2"),
		{
			Name:              "Breathwork",
			StartAt:           startAt,
			Source:            models.SourceTribehaus,
			SourceURL:         "https://tribehaus.test/3",
			Description:       `<p>hello<script>alert(1)</script></p>`,
			DescriptionIsHTML: true,
		},
	}

	store := NewMemoryEventStore()
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: events}},
		store, nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Invalid != 1 {
		t.Errorf("expected 1 invalid record, got %d", summary.Invalid)
	}

	soldOut := store.Get("yoga-class-2025-07-10-1900")
	if soldOut == nil {
		t.Fatal("expected sold-out event under cleaned-name slug")
	}
	if !soldOut.SoldOut || soldOut.Name != "Yoga Class" {
		t.Errorf("sold-out derivation wrong: name=%q soldOut=%t", soldOut.Name, soldOut.SoldOut)
	}
	if !soldOut.Listed {
		t.Error("new events should default to listed")
	}

	breathwork := store.Get("breathwork-2025-07-10-1900")
	if breathwork == nil {
		t.Fatal("expected breathwork event")
	}
	if breathwork.Description != "<p>hello</p>" {
		t.Errorf("description not sanitized: %q", breathwork.Description)
	}
}

func TestRunSpanFilterExcludesLongEvents(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC)
	longEnd := startAt.AddDate(0, 0, 61)
	shortEnd := startAt.AddDate(0, 0, 2)

	long := normalized("Course", startAt, models.SourceTribehaus, "https://tribehaus.test/long")
	long.EndAt = &longEnd
	short := normalized("Festival", startAt, models.SourceTribehaus, "https://tribehaus.test/short")
	short.EndAt = &shortEnd

	store := NewMemoryEventStore()
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{long, short}}},
		store, nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.SpanFiltered != 1 || summary.Persisted != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if store.Get("festival-2025-07-10-1900") == nil {
		t.Error("short event should be persisted")
	}
}

func TestRunUpsertPreservesListedFlag(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC)

	store := NewMemoryEventStore()
	adapter := &fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{
		normalized("Yoga", startAt, models.SourceTribehaus, "https://tribehaus.test/1"),
	}}
	o := NewOrchestrator([]Adapter{adapter}, store, nil, testLogger(), nil, DefaultConfig())

	if _, err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// A human unlists the event between runs.
	store.SetListed("yoga-2025-07-10-1900", false)

	if _, err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	stored := store.Get("yoga-2025-07-10-1900")
	if stored == nil {
		t.Fatal("expected stored event")
	}
	if stored.Listed {
		t.Error("manual unlisting must survive a re-run")
	}
}

func TestRunBatchFailureAbortsRemainder(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	events := make([]models.NormalizedEvent, 40)
	for i := range events {
		startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		events[i] = normalized(fmt.Sprintf("Event %d", i), startAt, models.SourceTribehaus,
			fmt.Sprintf("https://tribehaus.test/%d", i))
	}

	store := &failingStore{MemoryEventStore: NewMemoryEventStore(), failAfter: 1}
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: events}},
		store, nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err == nil {
		t.Fatal("expected run to fail on batch error")
	}

	if summary.Persisted != 15 {
		t.Errorf("expected one full batch persisted before abort, got %d", summary.Persisted)
	}
	if store.batches != 2 {
		t.Errorf("expected abort after second batch, got %d attempts", store.batches)
	}
}

func TestRunCleanDeletesTargetedSources(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	store := NewMemoryEventStore()
	// A past event that reconciliation would exempt; clean removes it anyway.
	seedEvent(store, "old-2024-01-01-1000", models.SourceTribehaus,
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	seedEvent(store, "foreign-2025-08-01-1000", models.SourceSeijetzt,
		time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC))

	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{
			normalized("Yoga", time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC), models.SourceTribehaus, "https://tribehaus.test/1"),
		}}},
		store, nil, testLogger(), nil, DefaultConfig(),
	)

	if _, err := o.Run(context.Background(), true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.Get("old-2024-01-01-1000") != nil {
		t.Error("clean must delete the targeted source's past events")
	}
	if store.Get("foreign-2025-08-01-1000") == nil {
		t.Error("clean must not touch other sources")
	}
	if store.Get("yoga-2025-07-10-1900") == nil {
		t.Error("fresh events should be persisted after clean")
	}
}

func TestRunCleanWarnsOnFailedSources(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	store := NewMemoryEventStore()
	seedEvent(store, "doomed-2025-07-10-1900", models.SourceSeijetzt,
		time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceSeijetzt, err: fmt.Errorf("site unreachable")}},
		store, nil, logger, nil, DefaultConfig(),
	)

	if _, err := o.Run(context.Background(), true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Clean covers every targeted source, broken or not.
	if store.Get("doomed-2025-07-10-1900") != nil {
		t.Error("clean must delete the targeted source's events even when its adapter failed")
	}
	if !strings.Contains(buf.String(), "deleted without replacement") {
		t.Error("expected a warning about cleaning a failed source")
	}
}

type fakeEnricher struct {
	loads int
}

func (f *fakeEnricher) Load(ctx context.Context) error {
	f.loads++
	return nil
}

func (f *fakeEnricher) EnrichImages(ctx context.Context, ev models.StoredEvent) models.StoredEvent {
	out := ev
	out.ImageURLs = make([]string, len(ev.ImageURLs))
	for i, u := range ev.ImageURLs {
		out.ImageURLs[i] = "https://assets.test/" + ev.Slug + "/" + fmt.Sprint(i) + "?orig=" + u
	}
	return out
}

func TestRunEnrichesImages(t *testing.T) {
	fixNow(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	startAt := time.Date(2025, 7, 10, 19, 0, 0, 0, time.UTC)

	event := normalized("Yoga", startAt, models.SourceTribehaus, "https://tribehaus.test/1")
	event.ImageURLs = []string{"https://tribehaus.test/img.jpg"}

	store := NewMemoryEventStore()
	enricher := &fakeEnricher{}
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, events: []models.NormalizedEvent{event}}},
		store, enricher, testLogger(), nil, DefaultConfig(),
	)

	if _, err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if enricher.loads != 1 {
		t.Errorf("cache prefetch ran %d times, want 1", enricher.loads)
	}
	stored := store.Get("yoga-2025-07-10-1900")
	if stored == nil {
		t.Fatal("expected stored event")
	}
	if len(stored.ImageURLs) != 1 || stored.ImageURLs[0] == "https://tribehaus.test/img.jpg" {
		t.Errorf("image urls not rewritten: %v", stored.ImageURLs)
	}
}

func TestRunNoEvents(t *testing.T) {
	o := NewOrchestrator(
		[]Adapter{&fakeAdapter{name: models.SourceTribehaus, err: fmt.Errorf("no events found")}},
		NewMemoryEventStore(), nil, testLogger(), nil, DefaultConfig(),
	)

	summary, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("empty run should not fail: %v", err)
	}
	if summary.Scraped != 0 || summary.Persisted != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
