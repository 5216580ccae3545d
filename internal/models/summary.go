// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package models

import "time"

// SyncMode selects the aggregation strategy for a sync run.
//
// ADD accumulates per-entity deltas onto existing totals; deltas must be
// derived strictly from rows newly inserted during the run, never from a
// re-scan of the overlap window (that would double count). REPLACE discards
// stored totals and overwrites them with values recomputed from the stored
// raw events, so a first sync re-run after a partial failure converges.
type SyncMode string

const (
	ModeAdd     SyncMode = "add"
	ModeReplace SyncMode = "replace"
)

// EntityDelta holds the per-user counter changes contributed by one sync run.
// In ADD mode the values are increments; in REPLACE mode they are absolute
// totals for the run's window.
type EntityDelta struct {
	DistinctID     string `json:"distinct_id"`
	Copies         int64  `json:"copies"`
	Subscriptions  int64  `json:"subscriptions"`
	PortfolioViews int64  `json:"portfolio_views"`
}

// Summary is the per-user cumulative summary row.
//
// Counter fields are maintained by the incremental aggregator. Profile fields
// (Plan, Country, SupportTickets, OpenIssues) are latest-value-wins and
// maintained by the property sync path; KYCApproved is ever-true.
type Summary struct {
	DistinctID     string     `json:"distinct_id"`
	Copies         int64      `json:"copies"`
	Subscriptions  int64      `json:"subscriptions"`
	PortfolioViews int64      `json:"portfolio_views"`
	KYCApproved    bool       `json:"kyc_approved"`
	Plan           *string    `json:"plan,omitempty"`
	Country        *string    `json:"country,omitempty"`
	SupportTickets *int64     `json:"support_tickets,omitempty"`
	OpenIssues     *int64     `json:"open_issues,omitempty"`
	LastUpdated    time.Time  `json:"last_updated"`
}

// WindowBoundary bounds the per-user analysis window: the KYC-approval
// instant (start) and the first-copy instant (end). A user with only one of
// the two timestamps is excluded from windowed analysis - a defined policy,
// not an error.
type WindowBoundary struct {
	DistinctID  string     `json:"distinct_id"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// Complete reports whether both boundaries are present and ordered.
func (b *WindowBoundary) Complete() bool {
	if b.WindowStart == nil || b.WindowEnd == nil {
		return false
	}
	return !b.WindowEnd.Before(*b.WindowStart)
}

// WindowedMetrics is the cohort-level output of the windowed metric
// calculator. Callers must check CohortSize before trusting Mean/Median:
// an empty cohort yields a defined-but-invalid zero result.
type WindowedMetrics struct {
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	CohortSize int     `json:"cohort_size"`
}

// Valid reports whether the metrics were computed over a non-empty cohort.
func (m *WindowedMetrics) Valid() bool { return m.CohortSize > 0 }
