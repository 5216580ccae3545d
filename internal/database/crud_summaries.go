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
	"strings"
	"time"

	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
)

// ApplySummaryDeltas accumulates per-user counter deltas onto stored totals
// in one statement. Used by ADD-mode runs, where deltas come strictly from
// newly inserted raw events. A single multi-row upsert keeps the whole
// batch atomic without an explicit transaction.
func (db *DB) ApplySummaryDeltas(ctx context.Context, deltas []models.EntityDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query, args := buildSummaryDeltaUpsert(deltas)

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, args...)
	metrics.ObserveDBStatement("upsert", "user_summaries", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply summary deltas: %w", err)
	}
	return nil
}

// buildSummaryDeltaUpsert builds the multi-row accumulating upsert.
func buildSummaryDeltaUpsert(deltas []models.EntityDelta) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO user_summaries (distinct_id, copies, subscriptions, portfolio_views, last_updated) VALUES `)

	args := make([]any, 0, len(deltas)*4)
	for i, d := range deltas {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, now())", base+1, base+2, base+3, base+4)
		args = append(args, d.DistinctID, d.Copies, d.Subscriptions, d.PortfolioViews)
	}

	sb.WriteString(` ON CONFLICT (distinct_id) DO UPDATE SET
		copies = user_summaries.copies + EXCLUDED.copies,
		subscriptions = user_summaries.subscriptions + EXCLUDED.subscriptions,
		portfolio_views = user_summaries.portfolio_views + EXCLUDED.portfolio_views,
		last_updated = now()`)

	return sb.String(), args
}

// recomputeSummariesQuery overwrites counter totals from stored raw events,
// counting only events at or after the run's range start so a retry at a
// later wall clock converges on the same totals.
const recomputeSummariesQuery = `INSERT INTO user_summaries (distinct_id, copies, subscriptions, portfolio_views, last_updated)
		SELECT distinct_id,
			COUNT(*) FILTER (WHERE event_name = $2),
			COUNT(*) FILTER (WHERE event_name = $3),
			COUNT(*) FILTER (WHERE event_name = $4),
			now()
		FROM raw_events
		WHERE distinct_id = ANY($1)
			AND event_time >= $5
		GROUP BY distinct_id
		ON CONFLICT (distinct_id) DO UPDATE SET
			copies = EXCLUDED.copies,
			subscriptions = EXCLUDED.subscriptions,
			portfolio_views = EXCLUDED.portfolio_views,
			last_updated = now()`

// RecomputeSummaries overwrites counter totals for the given users with
// values computed from the raw event history at or after from. Used by
// REPLACE-mode (first sync) runs; recomputing from storage makes the
// operation safe to re-run after a partial failure, when every event of the
// range is already a stored duplicate.
func (db *DB) RecomputeSummaries(ctx context.Context, distinctIDs []string, from time.Time) error {
	if len(distinctIDs) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, recomputeSummariesQuery, distinctIDs,
		models.EventCopyCreated, models.EventSubscriptionCreated, models.EventPortfolioView, from.UTC())
	metrics.ObserveDBStatement("upsert", "user_summaries", start, err)
	if err != nil {
		return fmt.Errorf("failed to recompute summaries: %w", err)
	}
	return nil
}

// MarkKYCApproved records KYC approval for the given users. The flag is
// ever-true: once set it is never cleared by sync activity.
func (db *DB) MarkKYCApproved(ctx context.Context, distinctIDs []string) error {
	if len(distinctIDs) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO user_summaries (distinct_id, kyc_approved, last_updated) VALUES `)
	args := make([]any, 0, len(distinctIDs))
	for i, id := range distinctIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, TRUE, now())", i+1)
		args = append(args, id)
	}
	sb.WriteString(` ON CONFLICT (distinct_id) DO UPDATE SET
		kyc_approved = TRUE,
		last_updated = now()`)

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, sb.String(), args...)
	metrics.ObserveDBStatement("upsert", "user_summaries", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark kyc approved: %w", err)
	}
	return nil
}

// GetSummary returns one user's summary row, or (nil, nil) when the user is
// unknown.
func (db *DB) GetSummary(ctx context.Context, distinctID string) (*models.Summary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT distinct_id, copies, subscriptions, portfolio_views, kyc_approved,
			plan, country, support_tickets, open_issues, last_updated
		FROM user_summaries WHERE distinct_id = $1`

	start := time.Now()
	s := &models.Summary{}
	err := db.conn.QueryRowContext(ctx, query, distinctID).Scan(
		&s.DistinctID, &s.Copies, &s.Subscriptions, &s.PortfolioViews, &s.KYCApproved,
		&s.Plan, &s.Country, &s.SupportTickets, &s.OpenIssues, &s.LastUpdated,
	)
	metrics.ObserveDBStatement("select", "user_summaries", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get summary for %s: %w", distinctID, err)
	}
	return s, nil
}
