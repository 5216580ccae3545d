// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
)

// maxInsertRows is the hard ceiling on rows per INSERT statement. 6
// parameters per row keeps this comfortably under the 65535 bind-parameter
// protocol limit.
const maxInsertRows = 500

// insertBatchSize returns the configured rows-per-statement batch size,
// clamped to maxInsertRows.
func (db *DB) insertBatchSize() int {
	if db.cfg != nil && db.cfg.InsertBatch > 0 && db.cfg.InsertBatch < maxInsertRows {
		return db.cfg.InsertBatch
	}
	return maxInsertRows
}

// InsertRawEvents bulk-inserts events and returns the subset that was
// actually inserted. Rows colliding with the natural-key constraint
// (distinct_id, event_time, secondary_key) are skipped by the database;
// RETURNING reports only the surviving rows.
//
// Aggregation deltas must be derived from the returned subset, never from
// the input: re-fetched overlap events land here too and would otherwise be
// counted twice.
func (db *DB) InsertRawEvents(ctx context.Context, events []models.RawEvent) ([]models.RawEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	batchSize := db.insertBatchSize()
	inserted := make([]models.RawEvent, 0, len(events))
	for batchStart := 0; batchStart < len(events); batchStart += batchSize {
		batchEnd := min(batchStart+batchSize, len(events))
		batch, err := db.insertRawEventBatch(ctx, events[batchStart:batchEnd])
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, batch...)
	}
	return inserted, nil
}

// insertRawEventBatch inserts one batch in a single statement.
func (db *DB) insertRawEventBatch(ctx context.Context, events []models.RawEvent) ([]models.RawEvent, error) {
	query, args, err := buildRawEventInsert(events)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBStatement("insert", "raw_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert raw events: %w", err)
	}
	defer rows.Close()

	var inserted []models.RawEvent
	for rows.Next() {
		var ev models.RawEvent
		if err := rows.Scan(&ev.Source, &ev.DistinctID, &ev.EventName, &ev.EventTime, &ev.SecondaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan inserted event: %w", err)
		}
		ev.EventTime = ev.EventTime.UTC()
		inserted = append(inserted, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inserted events: %w", err)
	}
	return inserted, nil
}

// buildRawEventInsert builds the multi-row insert statement and its
// arguments.
func buildRawEventInsert(events []models.RawEvent) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO raw_events (source, distinct_id, event_name, event_time, secondary_key, payload, ingested_at) VALUES `)

	args := make([]any, 0, len(events)*6)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, now())",
			base+1, base+2, base+3, base+4, base+5, base+6)

		var payload any
		if ev.Payload != nil {
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				return "", nil, fmt.Errorf("failed to marshal event payload: %w", err)
			}
			payload = data
		}
		args = append(args, ev.Source, ev.DistinctID, ev.EventName, ev.EventTime.UTC(), ev.SecondaryKey, payload)
	}

	sb.WriteString(` ON CONFLICT ON CONSTRAINT raw_events_natural_key DO NOTHING
		RETURNING source, distinct_id, event_name, event_time, secondary_key`)

	return sb.String(), args, nil
}
