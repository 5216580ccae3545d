// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState is the orchestrator state machine for one sync run.
//
// Runs progress IDLE -> FETCHING_WATERMARK -> (FIRST_SYNC | INCREMENTAL) ->
// INGESTING -> AGGREGATING -> COMMITTING_WATERMARK -> DONE, with FAILED
// reachable from every non-DONE state. Phases form a strict barrier: ingestion
// fully completes before aggregation starts, aggregation before the watermark
// commit.
type SyncState string

const (
	StateIdle                SyncState = "IDLE"
	StateFetchingWatermark   SyncState = "FETCHING_WATERMARK"
	StateFirstSync           SyncState = "FIRST_SYNC"
	StateIncremental         SyncState = "INCREMENTAL"
	StateIngesting           SyncState = "INGESTING"
	StateAggregating         SyncState = "AGGREGATING"
	StateCommittingWatermark SyncState = "COMMITTING_WATERMARK"
	StateDone                SyncState = "DONE"
	StateFailed              SyncState = "FAILED"
)

// syncTransitions lists the legal forward edges of the run state machine.
var syncTransitions = map[SyncState][]SyncState{
	StateIdle:                {StateFetchingWatermark},
	StateFetchingWatermark:   {StateFirstSync, StateIncremental},
	StateFirstSync:           {StateIngesting},
	StateIncremental:         {StateIngesting},
	StateIngesting:           {StateAggregating},
	StateAggregating:         {StateCommittingWatermark},
	StateCommittingWatermark: {StateDone},
}

// CanTransition reports whether moving from s to next is a legal edge.
// FAILED is reachable from every state except DONE; DONE and FAILED are
// terminal.
func (s SyncState) CanTransition(next SyncState) bool {
	if s == StateDone || s == StateFailed {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, t := range syncTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a run.
func (s SyncState) Terminal() bool { return s == StateDone || s == StateFailed }

// SyncRun records one orchestrated sync execution for a source.
type SyncRun struct {
	ID        uuid.UUID     `json:"id"`
	Source    string        `json:"source"`
	State     SyncState     `json:"state"`
	Mode      SyncMode      `json:"mode"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Observed  int64         `json:"events_observed"`
	Inserted  int64         `json:"events_inserted"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// IngestReport summarizes one ingestion phase. Observed counts every event
// the source returned for the range; Inserted counts rows the database
// actually wrote (duplicates excluded). Deltas are derived from the inserted
// rows only; KYCApproved and TouchedIDs cover every observed user, so a
// re-run over already-stored data still recomputes their aggregates.
type IngestReport struct {
	Observed     int64
	Inserted     int64
	MaxEventTime time.Time
	Deltas       []EntityDelta
	KYCApproved  []string
	TouchedIDs   []string
}
