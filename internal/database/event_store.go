package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/samuba/blissbase-sub000/internal/models"
)

// PostgresEventStore implements pipeline.EventStore using PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// UpsertBatch inserts or updates the given records in one transaction.
// Conflicts resolve by slug. The update column set deliberately excludes
// listed and created_at, so manual unlisting survives re-scrapes.
func (s *PostgresEventStore) UpsertBatch(ctx context.Context, events []models.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (
			slug, name, start_at, end_at, address, price, price_is_html,
			description, description_is_html, image_urls, host, host_link,
			contact, latitude, longitude, tags, sold_out, listed,
			source, source_url, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, NOW()
		)
		ON CONFLICT (slug) DO UPDATE SET
			name                = EXCLUDED.name,
			start_at            = EXCLUDED.start_at,
			end_at              = EXCLUDED.end_at,
			address             = EXCLUDED.address,
			price               = EXCLUDED.price,
			price_is_html       = EXCLUDED.price_is_html,
			description         = EXCLUDED.description,
			description_is_html = EXCLUDED.description_is_html,
			image_urls          = EXCLUDED.image_urls,
			host                = EXCLUDED.host,
			host_link           = EXCLUDED.host_link,
			contact             = EXCLUDED.contact,
			latitude            = EXCLUDED.latitude,
			longitude           = EXCLUDED.longitude,
			tags                = EXCLUDED.tags,
			sold_out            = EXCLUDED.sold_out,
			source              = EXCLUDED.source,
			source_url          = EXCLUDED.source_url,
			updated_at          = NOW()
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.Slug,
			event.Name,
			event.StartAt,
			event.EndAt,
			pq.Array(event.Address),
			nullableString(event.Price),
			event.PriceIsHTML,
			nullableString(event.Description),
			event.DescriptionIsHTML,
			pq.Array(event.ImageURLs),
			event.Host,
			event.HostLink,
			pq.Array(event.Contact),
			event.Latitude,
			event.Longitude,
			pq.Array(event.Tags),
			event.SoldOut,
			event.Listed,
			string(event.Source),
			event.SourceURL,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert event %s: %w", event.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	return nil
}

// ListIdentities returns slug/source/start for every record of the given
// sources.
func (s *PostgresEventStore) ListIdentities(ctx context.Context, sources []models.SourceID) ([]models.EventIdentity, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, source, start_at
		FROM events
		WHERE source = ANY($1)
	`, pq.Array(sourceStrings(sources)))
	if err != nil {
		return nil, fmt.Errorf("failed to query event identities: %w", err)
	}
	defer rows.Close()

	var identities []models.EventIdentity
	for rows.Next() {
		var id models.EventIdentity
		var source string
		if err := rows.Scan(&id.Slug, &source, &id.StartAt); err != nil {
			return nil, fmt.Errorf("failed to scan event identity: %w", err)
		}
		id.Source = models.SourceID(source)
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event identities: %w", err)
	}
	return identities, nil
}

// DeleteBySlugs removes the records with the given slugs.
func (s *PostgresEventStore) DeleteBySlugs(ctx context.Context, slugs []string) (int, error) {
	if len(slugs) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE slug = ANY($1)", pq.Array(slugs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete events by slug: %w", err)
	}
	return rowsAffected(result), nil
}

// DeleteBySources removes every record belonging to the given sources.
func (s *PostgresEventStore) DeleteBySources(ctx context.Context, sources []models.SourceID) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE source = ANY($1)", pq.Array(sourceStrings(sources)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete events by source: %w", err)
	}
	return rowsAffected(result), nil
}

func sourceStrings(sources []models.SourceID) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rowsAffected(result sql.Result) int {
	// lib/pq always reports affected rows for DELETE.
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
