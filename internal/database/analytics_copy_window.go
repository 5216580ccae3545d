// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
)

// copyWindowQuery computes per-user distinct portfolio views inside the
// half-open [window_start, window_end) interval, then aggregates mean and
// median over the cohort. Users missing either boundary are excluded before
// the join.
const copyWindowQuery = `WITH cohort AS (
			SELECT distinct_id, window_start, window_end
			FROM window_boundaries
			WHERE window_start IS NOT NULL AND window_end IS NOT NULL
		),
		counts AS (
			SELECT c.distinct_id, COUNT(DISTINCT e.secondary_key) AS views
			FROM cohort c
			LEFT JOIN raw_events e
				ON e.distinct_id = c.distinct_id
				AND e.event_name = $1
				AND e.event_time >= c.window_start
				AND e.event_time < c.window_end
			GROUP BY c.distinct_id
		)
		SELECT
			COALESCE(AVG(views), 0),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY views), 0),
			COUNT(*)
		FROM counts`

// CopyWindowMetrics computes the cohort's portfolio-view activity between
// KYC approval and first copy, in a single statement.
//
// The cohort is every user with both boundaries present; users with a
// complete window and zero views contribute 0, they are not dropped. Each
// user's value is the distinct count of viewed portfolios with
// window_start <= event_time < window_end - start inclusive, end exclusive,
// so the first copy itself never counts as pre-copy activity. An empty
// cohort yields CohortSize 0; callers must treat Mean and Median as
// undefined in that case.
func (db *DB) CopyWindowMetrics(ctx context.Context) (*models.WindowedMetrics, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	m := &models.WindowedMetrics{}
	err := db.conn.QueryRowContext(ctx, copyWindowQuery, models.EventPortfolioView).Scan(&m.Mean, &m.Median, &m.CohortSize)
	metrics.ObserveDBStatement("select", "window_boundaries", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to compute copy window metrics: %w", err)
	}
	return m, nil
}
