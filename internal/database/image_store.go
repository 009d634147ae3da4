package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// PostgresImageStore implements images.Store using PostgreSQL.
type PostgresImageStore struct {
	db *sql.DB
}

// NewPostgresImageStore creates a new PostgreSQL image cache store.
func NewPostgresImageStore(db *sql.DB) *PostgresImageStore {
	return &PostgresImageStore{db: db}
}

// LoadAll returns the full cache table. The image pipeline prefetches it once
// per run and serves lookups from memory.
func (s *PostgresImageStore) LoadAll(ctx context.Context) ([]models.ImageEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_url, event_slug, asset_url, created_at
		FROM scraped_images
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scraped images: %w", err)
	}
	defer rows.Close()

	var entries []models.ImageEntry
	for rows.Next() {
		var entry models.ImageEntry
		if err := rows.Scan(&entry.SourceURL, &entry.EventSlug, &entry.AssetURL, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scraped image: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scraped images: %w", err)
	}
	return entries, nil
}

// Put records a new (source URL, event slug) -> asset URL mapping.
func (s *PostgresImageStore) Put(ctx context.Context, entry models.ImageEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraped_images (source_url, event_slug, asset_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_url, event_slug) DO UPDATE SET
			asset_url = EXCLUDED.asset_url
	`, entry.SourceURL, entry.EventSlug, entry.AssetURL)
	if err != nil {
		return fmt.Errorf("failed to store scraped image: %w", err)
	}
	return nil
}
