// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
)

// UpdateWindowBoundaries recomputes window boundaries for the given users
// from the raw event history.
//
// The window start is the user's earliest KYC approval; the window end is
// the earliest copy at or after that approval. Deriving both from raw_events
// inside one statement makes the operation idempotent: re-running it after
// an overlap re-fetch converges on the same boundaries. A copy that precedes
// approval never closes the window, so the ordering CHECK on the table
// always holds.
func (db *DB) UpdateWindowBoundaries(ctx context.Context, distinctIDs []string) error {
	if len(distinctIDs) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `WITH starts AS (
			SELECT distinct_id, MIN(event_time) AS window_start
			FROM raw_events
			WHERE event_name = $2 AND distinct_id = ANY($1)
			GROUP BY distinct_id
		),
		targets AS (
			SELECT DISTINCT distinct_id FROM raw_events WHERE distinct_id = ANY($1)
		),
		bounds AS (
			SELECT t.distinct_id,
				s.window_start,
				(SELECT MIN(e.event_time) FROM raw_events e
					WHERE e.distinct_id = t.distinct_id
					  AND e.event_name = $3
					  AND s.window_start IS NOT NULL
					  AND e.event_time >= s.window_start) AS window_end
			FROM targets t
			LEFT JOIN starts s USING (distinct_id)
		)
		INSERT INTO window_boundaries (distinct_id, window_start, window_end, updated_at)
		SELECT distinct_id, window_start, window_end, now() FROM bounds
		ON CONFLICT (distinct_id) DO UPDATE SET
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			updated_at = now()`

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, distinctIDs, models.EventKYCApproved, models.EventCopyCreated)
	metrics.ObserveDBStatement("upsert", "window_boundaries", start, err)
	if err != nil {
		return fmt.Errorf("failed to update window boundaries: %w", err)
	}
	return nil
}

// GetWindowBoundary returns one user's window boundary, or (nil, nil) when
// the user has no boundary row.
func (db *DB) GetWindowBoundary(ctx context.Context, distinctID string) (*models.WindowBoundary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT distinct_id, window_start, window_end
		FROM window_boundaries WHERE distinct_id = $1`

	start := time.Now()
	b := &models.WindowBoundary{}
	err := db.conn.QueryRowContext(ctx, query, distinctID).Scan(&b.DistinctID, &b.WindowStart, &b.WindowEnd)
	metrics.ObserveDBStatement("select", "window_boundaries", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get window boundary for %s: %w", distinctID, err)
	}
	return b, nil
}
