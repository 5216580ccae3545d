// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package models

import "time"

// Event names tracked by the pipeline. Raw events carry arbitrary names from
// the vendor export; only these contribute to summary counters and window
// boundaries.
const (
	EventCopyCreated         = "copy_created"
	EventSubscriptionCreated = "subscription_created"
	EventPortfolioView       = "portfolio_view"
	EventKYCApproved         = "kyc_approved"
)

// RawEvent is one observed analytics event from an external source.
//
// The natural key is (DistinctID, EventTime, SecondaryKey) - enforced by a
// UNIQUE constraint on the raw_events table, not by application-side
// filtering. Duplicate ingestion attempts are no-ops.
type RawEvent struct {
	Source       string         `json:"source"`
	DistinctID   string         `json:"distinct_id"`
	EventName    string         `json:"event_name"`
	EventTime    time.Time      `json:"event_time"`
	SecondaryKey string         `json:"secondary_key"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NaturalKey returns the deduplication key tuple for the event.
func (e *RawEvent) NaturalKey() NaturalKey {
	return NaturalKey{
		DistinctID:   e.DistinctID,
		EventTime:    e.EventTime.UTC(),
		SecondaryKey: e.SecondaryKey,
	}
}

// NaturalKey uniquely identifies a raw event for deduplication.
type NaturalKey struct {
	DistinctID   string
	EventTime    time.Time
	SecondaryKey string
}

// EntityProperties is one property document for a user, fetched from a
// property feed (support tickets, issue trackers). Fields hold the tracked
// attribute values keyed by column name; ObservedAt is the vendor-side
// modification time used to advance the feed watermark.
type EntityProperties struct {
	DistinctID string         `json:"distinct_id"`
	Fields     map[string]any `json:"fields"`
	ObservedAt time.Time      `json:"observed_at"`
}
