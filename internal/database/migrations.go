package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step. Migrations are embedded rather than shipped
// as files so the scraper binary bootstraps its own schema wherever it runs.
type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_events",
		sql: `
			CREATE TABLE IF NOT EXISTS events (
				slug                TEXT PRIMARY KEY,
				name                TEXT NOT NULL,
				start_at            TIMESTAMPTZ NOT NULL,
				end_at              TIMESTAMPTZ,
				address             TEXT[] NOT NULL DEFAULT '{}',
				price               TEXT,
				price_is_html       BOOLEAN NOT NULL DEFAULT FALSE,
				description         TEXT,
				description_is_html BOOLEAN NOT NULL DEFAULT FALSE,
				image_urls          TEXT[] NOT NULL DEFAULT '{}',
				host                TEXT,
				host_link           TEXT,
				contact             TEXT[] NOT NULL DEFAULT '{}',
				latitude            DOUBLE PRECISION,
				longitude           DOUBLE PRECISION,
				tags                TEXT[] NOT NULL DEFAULT '{}',
				sold_out            BOOLEAN NOT NULL DEFAULT FALSE,
				listed              BOOLEAN NOT NULL DEFAULT TRUE,
				source              TEXT NOT NULL,
				source_url          TEXT NOT NULL,
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS events_source_idx ON events (source);
			CREATE INDEX IF NOT EXISTS events_start_at_idx ON events (start_at);
		`,
	},
	{
		version: "002_geocode_cache",
		sql: `
			CREATE TABLE IF NOT EXISTS geocode_cache (
				address    TEXT PRIMARY KEY,
				latitude   DOUBLE PRECISION,
				longitude  DOUBLE PRECISION,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		version: "003_scraped_images",
		sql: `
			CREATE TABLE IF NOT EXISTS scraped_images (
				source_url TEXT NOT NULL,
				event_slug TEXT NOT NULL,
				asset_url  TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (source_url, event_slug)
			);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		pending++
		logger.Info("applying migration", "version", m.version)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
	}

	if pending == 0 {
		logger.Debug("database schema up to date")
	} else {
		logger.Info("migrations applied", "count", pending)
	}
	return nil
}
