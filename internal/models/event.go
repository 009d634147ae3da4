package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceID identifies the adapter a record originated from.
type SourceID string

const (
	SourceTribehaus SourceID = "tribehaus"
	SourceSeijetzt  SourceID = "seijetzt"
)

// NormalizedEvent is the record shape every source adapter must produce.
// Adapters own all fields here; derived fields (slug, soldOut, listed,
// rewritten image URLs) belong to the pipeline and live on StoredEvent.
type NormalizedEvent struct {
	Name              string     `json:"name"`
	StartAt           time.Time  `json:"startAt"`
	EndAt             *time.Time `json:"endAt,omitempty"`
	Address           []string   `json:"address"` // free-text lines, venue name typically first
	Price             string     `json:"price,omitempty"`
	PriceIsHTML       bool       `json:"priceIsHtml,omitempty"`
	Description       string     `json:"description,omitempty"`
	DescriptionIsHTML bool       `json:"descriptionIsHtml,omitempty"`
	ImageURLs         []string   `json:"imageUrls,omitempty"`
	Host              *string    `json:"host,omitempty"`
	HostLink          *string    `json:"hostLink,omitempty"`
	Contact           []string   `json:"contact,omitempty"` // emails, phones, IM handles, URLs
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	Source            SourceID   `json:"source"`
	SourceURL         string     `json:"sourceUrl"` // unique within a source
}

// Validate checks the fields without which a record cannot be stored.
// Records failing validation are dropped per-record, never fatal.
func (e *NormalizedEvent) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("event name is required")
	}
	if e.StartAt.IsZero() {
		return fmt.Errorf("event start time is required")
	}
	if e.Source == "" {
		return fmt.Errorf("event source is required")
	}
	return nil
}

// AddressKey joins the non-empty trimmed address lines with ", ".
// It is the exact cache key used by the geocode cache.
func (e *NormalizedEvent) AddressKey() string {
	parts := make([]string, 0, len(e.Address))
	for _, line := range e.Address {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

// StoredEvent is a NormalizedEvent enriched with pipeline-derived fields,
// keyed by Slug in the store.
type StoredEvent struct {
	NormalizedEvent

	Slug    string `json:"slug"` // unique constraint in the store
	SoldOut bool   `json:"soldOut"`
	Listed  bool   `json:"listed"`
}

// GeocodeEntry caches one address lookup. A row with nil coordinates means
// "looked up, not resolvable" and is just as permanent as a successful one.
type GeocodeEntry struct {
	Address   string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}

// Resolved reports whether the lookup produced coordinates.
func (g *GeocodeEntry) Resolved() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// ImageEntry maps an original image URL, scoped to the owning event's slug,
// to the cached asset URL produced for it.
type ImageEntry struct {
	SourceURL string
	EventSlug string
	AssetURL  string
	CreatedAt time.Time
}

// EventIdentity is the minimal projection of a stored event needed by the
// reconciler to decide whether it went stale.
type EventIdentity struct {
	Slug    string
	Source  SourceID
	StartAt time.Time
}

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
