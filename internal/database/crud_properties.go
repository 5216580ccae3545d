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
	"sort"
	"strings"
	"time"

	"github.com/dubhq/dubsync/internal/metrics"
)

// propertyColumns is the allow-list of profile columns writable by property
// feeds. Feed fields outside this list are dropped, never interpolated into
// SQL.
var propertyColumns = map[string]bool{
	"plan":            true,
	"country":         true,
	"support_tickets": true,
	"open_issues":     true,
}

// GetUserProperties returns the stored profile property values for a user,
// keyed by column name. NULL columns map to nil values. An unknown user
// returns (nil, nil).
func (db *DB) GetUserProperties(ctx context.Context, distinctID string) (map[string]any, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT plan, country, support_tickets, open_issues
		FROM user_summaries WHERE distinct_id = $1`

	start := time.Now()
	var plan, country sql.NullString
	var tickets, issues sql.NullInt64
	err := db.conn.QueryRowContext(ctx, query, distinctID).Scan(&plan, &country, &tickets, &issues)
	metrics.ObserveDBStatement("select", "user_summaries", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get properties for %s: %w", distinctID, err)
	}

	props := make(map[string]any, 4)
	props["plan"] = nullableString(plan)
	props["country"] = nullableString(country)
	props["support_tickets"] = nullableInt64(tickets)
	props["open_issues"] = nullableInt64(issues)
	return props, nil
}

// UpsertUserProperties writes profile property values for a user with
// latest-value-wins semantics. Only allow-listed columns are written; the
// counter columns are untouched.
func (db *DB) UpsertUserProperties(ctx context.Context, distinctID string, fields map[string]any) error {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if propertyColumns[col] {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	sort.Strings(cols)

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query, args := buildPropertyUpsert(distinctID, cols, fields)

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, args...)
	metrics.ObserveDBStatement("upsert", "user_summaries", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert properties for %s: %w", distinctID, err)
	}
	return nil
}

// buildPropertyUpsert builds the single-row property upsert for the given
// columns. Column names come from the allow-list only.
func buildPropertyUpsert(distinctID string, cols []string, fields map[string]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO user_summaries (distinct_id, `)
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(`, last_updated) VALUES ($1, `)

	args := make([]any, 0, len(cols)+1)
	args = append(args, distinctID)
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", i+2)
		args = append(args, fields[col])
	}
	sb.WriteString(`, now()) ON CONFLICT (distinct_id) DO UPDATE SET `)

	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", col, col)
	}
	sb.WriteString(`, last_updated = now()`)

	return sb.String(), args
}

func nullableString(v sql.NullString) any {
	if v.Valid {
		return v.String
	}
	return nil
}

func nullableInt64(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}
