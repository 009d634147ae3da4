package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// PostgresGeocodeStore implements geocode.Store using PostgreSQL.
type PostgresGeocodeStore struct {
	db *sql.DB
}

// NewPostgresGeocodeStore creates a new PostgreSQL geocode cache store.
func NewPostgresGeocodeStore(db *sql.DB) *PostgresGeocodeStore {
	return &PostgresGeocodeStore{db: db}
}

// Get returns the cached entry for an address, or nil on a miss. Rows with
// null coordinates are valid entries meaning "looked up, unresolvable".
func (s *PostgresGeocodeStore) Get(ctx context.Context, address string) (*models.GeocodeEntry, error) {
	var entry models.GeocodeEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT address, latitude, longitude, created_at
		FROM geocode_cache
		WHERE address = $1
	`, address).Scan(&entry.Address, &entry.Latitude, &entry.Longitude, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query geocode cache: %w", err)
	}
	return &entry, nil
}

// Put stores a lookup result. Concurrent writers may race on the same
// address; the entries are identical, so last write wins.
func (s *PostgresGeocodeStore) Put(ctx context.Context, entry models.GeocodeEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address, latitude, longitude)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			latitude  = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`, entry.Address, entry.Latitude, entry.Longitude)
	if err != nil {
		return fmt.Errorf("failed to store geocode entry: %w", err)
	}
	return nil
}
