// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package models

import "time"

// Watermark marks how far a given data source has been durably synced.
//
// One row exists per source. LastEventTime is the maximum event timestamp
// observed across all successful syncs and is only ever advanced after a run
// has fully committed its ingestion and aggregation phases. A failed or
// partial run leaves the watermark untouched so the next run re-covers the
// same range.
type Watermark struct {
	Source            string    `json:"source"`
	LastEventTime     time.Time `json:"last_event_time"`
	TotalEventsSynced int64     `json:"total_events_synced"`
	UpdatedAt         time.Time `json:"updated_at"`
}
