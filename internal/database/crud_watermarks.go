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

// GetWatermark returns the watermark for a source, or (nil, nil) when the
// source has never completed a sync. Absence is a normal state meaning
// first sync, not an error.
func (db *DB) GetWatermark(ctx context.Context, source string) (*models.Watermark, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT source, last_event_time, total_events_synced, updated_at
		FROM sync_watermarks WHERE source = $1`

	start := time.Now()
	wm := &models.Watermark{}
	err := db.conn.QueryRowContext(ctx, query, source).Scan(
		&wm.Source, &wm.LastEventTime, &wm.TotalEventsSynced, &wm.UpdatedAt,
	)
	metrics.ObserveDBStatement("select", "sync_watermarks", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark for %s: %w", source, err)
	}
	return wm, nil
}

// SetWatermark commits the watermark for a source and adds eventsDelta to
// the lifetime sync counter. GREATEST keeps the stored timestamp monotonic
// even if a run observed an older maximum than a concurrent writer.
func (db *DB) SetWatermark(ctx context.Context, source string, lastEventTime time.Time, eventsDelta int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO sync_watermarks (source, last_event_time, total_events_synced, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source) DO UPDATE SET
			last_event_time = GREATEST(sync_watermarks.last_event_time, EXCLUDED.last_event_time),
			total_events_synced = sync_watermarks.total_events_synced + EXCLUDED.total_events_synced,
			updated_at = now()`

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, source, lastEventTime.UTC(), eventsDelta)
	metrics.ObserveDBStatement("upsert", "sync_watermarks", start, err)
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", source, err)
	}

	metrics.WatermarkTimestamp.WithLabelValues(source).Set(float64(lastEventTime.UTC().Unix()))
	return nil
}
