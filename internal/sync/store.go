// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"time"

	"github.com/dubhq/dubsync/internal/database"
	"github.com/dubhq/dubsync/internal/models"
)

// Store defines the persistence operations the orchestrator needs.
// *database.DB is the production implementation; tests use an in-memory
// fake.
type Store interface {
	// GetWatermark returns (nil, nil) when the source has never synced.
	GetWatermark(ctx context.Context, source string) (*models.Watermark, error)

	// SetWatermark commits the watermark and adds eventsDelta to the
	// lifetime counter. Called only after ingestion and aggregation have
	// fully succeeded.
	SetWatermark(ctx context.Context, source string, lastEventTime time.Time, eventsDelta int64) error

	// InsertRawEvents returns the subset of events actually inserted;
	// natural-key duplicates are silently skipped.
	InsertRawEvents(ctx context.Context, events []models.RawEvent) ([]models.RawEvent, error)

	// ApplySummaryDeltas accumulates counter deltas onto stored totals in
	// one atomic statement. ADD-mode runs only.
	ApplySummaryDeltas(ctx context.Context, deltas []models.EntityDelta) error

	// RecomputeSummaries overwrites counter totals for the given users
	// from raw events at or after from. REPLACE-mode runs only.
	RecomputeSummaries(ctx context.Context, distinctIDs []string, from time.Time) error

	// MarkKYCApproved sets the ever-true KYC flag for the given users.
	MarkKYCApproved(ctx context.Context, distinctIDs []string) error

	// UpdateWindowBoundaries recomputes window boundaries for the given
	// users from the raw event history.
	UpdateWindowBoundaries(ctx context.Context, distinctIDs []string) error

	// GetUserProperties returns stored profile values keyed by column, or
	// (nil, nil) for an unknown user.
	GetUserProperties(ctx context.Context, distinctID string) (map[string]any, error)

	// UpsertUserProperties writes profile values, latest value wins.
	UpsertUserProperties(ctx context.Context, distinctID string, fields map[string]any) error
}

var _ Store = (*database.DB)(nil)
