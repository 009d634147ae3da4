package pipeline

import (
	"context"
	"time"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// EventStore defines what the pipeline needs from the durable event store.
type EventStore interface {
	// UpsertBatch inserts or updates the given records, resolving conflicts
	// by slug. Manual edits to the listed flag survive the update.
	UpsertBatch(ctx context.Context, events []models.StoredEvent) error

	// ListIdentities returns slug/source/start for every stored record
	// belonging to one of the given sources.
	ListIdentities(ctx context.Context, sources []models.SourceID) ([]models.EventIdentity, error)

	// DeleteBySlugs removes the records with the given slugs and returns how
	// many were deleted.
	DeleteBySlugs(ctx context.Context, slugs []string) (int, error)

	// DeleteBySources removes every record belonging to the given sources.
	DeleteBySources(ctx context.Context, sources []models.SourceID) (int, error)
}

// MemoryEventStore implements EventStore in memory for testing/development.
type MemoryEventStore struct {
	events map[string]models.StoredEvent
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]models.StoredEvent)}
}

// UpsertBatch inserts or replaces records keyed by slug. The listed flag of an
// existing record is preserved, mirroring the SQL store's upsert column set.
func (s *MemoryEventStore) UpsertBatch(ctx context.Context, events []models.StoredEvent) error {
	for _, ev := range events {
		if existing, ok := s.events[ev.Slug]; ok {
			ev.Listed = existing.Listed
		}
		s.events[ev.Slug] = ev
	}
	return nil
}

// ListIdentities returns identities for records belonging to the given sources.
func (s *MemoryEventStore) ListIdentities(ctx context.Context, sources []models.SourceID) ([]models.EventIdentity, error) {
	wanted := make(map[models.SourceID]bool, len(sources))
	for _, src := range sources {
		wanted[src] = true
	}

	identities := make([]models.EventIdentity, 0)
	for _, ev := range s.events {
		if wanted[ev.Source] {
			identities = append(identities, models.EventIdentity{
				Slug:    ev.Slug,
				Source:  ev.Source,
				StartAt: ev.StartAt,
			})
		}
	}
	return identities, nil
}

// DeleteBySlugs removes records by slug.
func (s *MemoryEventStore) DeleteBySlugs(ctx context.Context, slugs []string) (int, error) {
	deleted := 0
	for _, slug := range slugs {
		if _, ok := s.events[slug]; ok {
			delete(s.events, slug)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteBySources removes all records belonging to the given sources.
func (s *MemoryEventStore) DeleteBySources(ctx context.Context, sources []models.SourceID) (int, error) {
	wanted := make(map[models.SourceID]bool, len(sources))
	for _, src := range sources {
		wanted[src] = true
	}

	deleted := 0
	for slug, ev := range s.events {
		if wanted[ev.Source] {
			delete(s.events, slug)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a stored record by slug, or nil.
func (s *MemoryEventStore) Get(slug string) *models.StoredEvent {
	ev, ok := s.events[slug]
	if !ok {
		return nil
	}
	return &ev
}

// Size returns the number of stored records.
func (s *MemoryEventStore) Size() int {
	return len(s.events)
}

// SetListed flips the listed flag on a stored record, simulating a manual
// edit between runs.
func (s *MemoryEventStore) SetListed(slug string, listed bool) {
	if ev, ok := s.events[slug]; ok {
		ev.Listed = listed
		s.events[slug] = ev
	}
}

// Seed stores a record directly, bypassing upsert semantics.
func (s *MemoryEventStore) Seed(ev models.StoredEvent) {
	s.events[ev.Slug] = ev
}

var _ EventStore = (*MemoryEventStore)(nil)

// nowFunc is swapped in tests that need a fixed reconciliation clock.
var nowFunc = time.Now
