// Package geocode resolves postal addresses to coordinates through a durable
// cache, so each distinct address is sent to the paid geocoding API at most
// once ever.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/samuba/blissbase-sub000/internal/config"
	"github.com/samuba/blissbase-sub000/internal/models"
)

// Geocoder turns an address string into coordinates.
//
// A (nil, nil) return means the address is definitively unresolvable and may
// be cached as such; a non-nil error means the lookup itself failed and must
// not be cached.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

const geocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// HTTPGeocoder calls the Google geocoding API.
type HTTPGeocoder struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewHTTPGeocoder creates a geocoder with an explicit per-request timeout.
func NewHTTPGeocoder(cfg config.GeocodeConfig) *HTTPGeocoder {
	return &HTTPGeocoder{
		apiKey:   cfg.APIKey,
		endpoint: geocodeEndpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves a single address string.
func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	query := url.Values{}
	query.Set("address", address)
	query.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode response: %w", err)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	switch parsed.Status {
	case "OK":
		if len(parsed.Results) == 0 {
			return nil, nil
		}
		loc := parsed.Results[0].Geometry.Location
		return &models.Coordinates{Latitude: loc.Lat, Longitude: loc.Lng}, nil
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, fmt.Errorf("geocode API returned status %q", parsed.Status)
	}
}

// Store defines what the resolver needs from the durable geocode cache.
// Entries are append-only and never expire: addresses do not move.
type Store interface {
	Get(ctx context.Context, address string) (*models.GeocodeEntry, error)
	Put(ctx context.Context, entry models.GeocodeEntry) error
}

// MemoryStore implements Store in memory for testing/development.
type MemoryStore struct {
	entries map[string]models.GeocodeEntry
}

// NewMemoryStore creates an empty in-memory geocode cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.GeocodeEntry)}
}

// Get returns the cached entry for an address, or nil on a miss.
func (s *MemoryStore) Get(ctx context.Context, address string) (*models.GeocodeEntry, error) {
	entry, ok := s.entries[address]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry keyed by its address.
func (s *MemoryStore) Put(ctx context.Context, entry models.GeocodeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.Address] = entry
	return nil
}

// Size returns the number of cached addresses.
func (s *MemoryStore) Size() int {
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
