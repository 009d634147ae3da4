package pipeline

import (
	"log/slog"
	"testing"
	"time"

	"github.com/samuba/blissbase-sub000/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func makeEvent(slug, sourceURL string) models.StoredEvent {
	return models.StoredEvent{
		NormalizedEvent: models.NormalizedEvent{
			Name:      "Event",
			StartAt:   time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC),
			Source:    models.SourceTribehaus,
			SourceURL: sourceURL,
		},
		Slug:   slug,
		Listed: true,
	}
}

func TestDeduplicateKeepsLastRecord(t *testing.T) {
	first := makeEvent("meditation-workshop-2025-07-04-1800", "https://a.example/1")
	first.Description = "first"
	second := makeEvent("meditation-workshop-2025-07-04-1800", "https://a.example/2")
	second.Description = "second"
	other := makeEvent("yoga-2025-07-05-0900", "https://a.example/3")

	result := Deduplicate([]models.StoredEvent{first, other, second}, testLogger())

	if len(result) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result))
	}
	if result[0].Slug != "meditation-workshop-2025-07-04-1800" {
		t.Errorf("group position should follow first occurrence, got %q", result[0].Slug)
	}
	if result[0].Description != "second" {
		t.Errorf("expected last record to win, got description %q", result[0].Description)
	}
	if result[1].Slug != "yoga-2025-07-05-0900" {
		t.Errorf("unexpected second record %q", result[1].Slug)
	}
}

func TestDeduplicatePassesUniqueThrough(t *testing.T) {
	events := []models.StoredEvent{
		makeEvent("a-2025-07-04-1800", "https://a.example/1"),
		makeEvent("b-2025-07-04-1900", "https://a.example/2"),
	}

	result := Deduplicate(events, testLogger())

	if len(result) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result))
	}
	for i := range events {
		if result[i].Slug != events[i].Slug {
			t.Errorf("record %d reordered: %q", i, result[i].Slug)
		}
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	events := []models.StoredEvent{
		makeEvent("a-2025-07-04-1800", "https://a.example/1"),
		makeEvent("a-2025-07-04-1800", "https://a.example/2"),
		makeEvent("b-2025-07-04-1900", "https://a.example/3"),
	}

	once := Deduplicate(events, testLogger())
	twice := Deduplicate(once, testLogger())

	if len(once) != len(twice) {
		t.Fatalf("second pass changed length: %d != %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Slug != twice[i].Slug || once[i].SourceURL != twice[i].SourceURL {
			t.Errorf("record %d changed on second pass", i)
		}
	}
}

func TestDeduplicateEmptyInput(t *testing.T) {
	if result := Deduplicate(nil, testLogger()); len(result) != 0 {
		t.Errorf("expected empty result, got %d records", len(result))
	}
}
