// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package database

import (
	"context"
	"fmt"
)

// schemaStatements creates the Dubsync tables. Statements are idempotent so
// startup can run them unconditionally.
//
// raw_events carries the natural-key UNIQUE constraint that makes ingestion
// idempotent; dedup lives here, not in application code. window_boundaries
// enforces ordering at the storage layer: an unordered pair is rejected, not
// silently stored.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sync_watermarks (
		source TEXT PRIMARY KEY,
		last_event_time TIMESTAMPTZ NOT NULL,
		total_events_synced BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS raw_events (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		distinct_id TEXT NOT NULL,
		event_name TEXT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		secondary_key TEXT NOT NULL,
		payload JSONB,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT raw_events_natural_key UNIQUE (distinct_id, event_time, secondary_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_events_event_time ON raw_events (event_time)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_events_name_time ON raw_events (event_name, event_time)`,

	`CREATE TABLE IF NOT EXISTS user_summaries (
		distinct_id TEXT PRIMARY KEY,
		copies BIGINT NOT NULL DEFAULT 0,
		subscriptions BIGINT NOT NULL DEFAULT 0,
		portfolio_views BIGINT NOT NULL DEFAULT 0,
		kyc_approved BOOLEAN NOT NULL DEFAULT FALSE,
		plan TEXT,
		country TEXT,
		support_tickets BIGINT,
		open_issues BIGINT,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS window_boundaries (
		distinct_id TEXT PRIMARY KEY,
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT window_boundaries_ordered CHECK (
			window_start IS NULL OR window_end IS NULL OR window_end >= window_start
		)
	)`,
}

// createTables applies the schema statements in order.
func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
