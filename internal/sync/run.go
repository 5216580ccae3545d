// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
	"github.com/dubhq/dubsync/internal/source"
)

// runEventSync executes one full sync run for an event source, driving the
// run through the state machine. The returned run is terminal: DONE or
// FAILED.
func (m *Manager) runEventSync(ctx context.Context, src source.EventSource) *models.SyncRun {
	run := &models.SyncRun{
		ID:        uuid.New(),
		Source:    src.Name(),
		State:     models.StateIdle,
		StartedAt: m.now(),
	}
	ctx = logging.ContextWithRunID(ctx, run.ID.String()[:8])
	log := logging.Ctx(ctx)

	defer func() {
		run.Duration = m.now().Sub(run.StartedAt)
		var runErr error
		if run.State == models.StateFailed {
			runErr = fmt.Errorf("%s", run.Error)
		}
		metrics.RecordSyncRun(run.Source, run.Duration, runErr)
	}()

	// Phase 1: fetch the watermark and pick the range.
	if err := m.transition(run, models.StateFetchingWatermark); err != nil {
		return m.failRun(run, err)
	}
	wm, err := m.store.GetWatermark(ctx, run.Source)
	if err != nil {
		return m.failRun(run, err)
	}

	now := m.now().UTC()
	if wm == nil {
		// First sync: bounded lookback, totals overwritten.
		if err := m.transition(run, models.StateFirstSync); err != nil {
			return m.failRun(run, err)
		}
		run.Mode = models.ModeReplace
		run.From = now.Add(-m.cfg.Sync.Lookback)
		run.To = now
		log.Info().Str("source", run.Source).Time("from", run.From).Time("to", run.To).Msg("First sync: no watermark found")
	} else {
		// Incremental: resume from the watermark minus the overlap so
		// late-arriving events near the boundary are re-covered.
		if err := m.transition(run, models.StateIncremental); err != nil {
			return m.failRun(run, err)
		}
		run.Mode = models.ModeAdd
		run.From = wm.LastEventTime.UTC().Add(-m.cfg.Sync.Overlap)
		run.To = now
		log.Info().Str("source", run.Source).Time("from", run.From).Time("to", run.To).Msg("Incremental sync from watermark")
	}

	// Phase 2: ingest raw events page by page.
	if err := m.transition(run, models.StateIngesting); err != nil {
		return m.failRun(run, err)
	}
	report, err := m.ingestRange(ctx, src, run.From, run.To)
	if err != nil {
		return m.failRun(run, err)
	}
	run.Observed = report.Observed
	run.Inserted = report.Inserted

	// Phase 3: aggregate. Starts only after ingestion fully completed.
	if err := m.transition(run, models.StateAggregating); err != nil {
		return m.failRun(run, err)
	}
	if err := m.aggregate(ctx, run, report); err != nil {
		return m.failRun(run, err)
	}

	// Phase 4: commit the watermark. A run that observed nothing leaves the
	// watermark untouched; there is no new event time to commit.
	if err := m.transition(run, models.StateCommittingWatermark); err != nil {
		return m.failRun(run, err)
	}
	if !report.MaxEventTime.IsZero() {
		if err := m.store.SetWatermark(ctx, run.Source, report.MaxEventTime, report.Inserted); err != nil {
			return m.failRun(run, err)
		}
	}

	if err := m.transition(run, models.StateDone); err != nil {
		return m.failRun(run, err)
	}

	log.Info().
		Str("source", run.Source).
		Str("mode", string(run.Mode)).
		Int64("observed", run.Observed).
		Int64("inserted", run.Inserted).
		Dur("duration", m.now().Sub(run.StartedAt)).
		Msg("Sync run completed")

	return run
}

// aggregate applies the ingest report to summaries, KYC flags, and window
// boundaries.
//
// ADD mode applies the inserted-row deltas; REPLACE mode recomputes totals
// from storage for every user the run observed, bounded to the run's range
// start so stored events older than the lookback never leak into the totals.
// The REPLACE path must not depend on the inserted subset: on a re-run after
// partial failure every event is a duplicate and the subset is empty.
func (m *Manager) aggregate(ctx context.Context, run *models.SyncRun, report *models.IngestReport) error {
	var err error
	if run.Mode == models.ModeReplace {
		err = m.store.RecomputeSummaries(ctx, report.TouchedIDs, run.From)
	} else {
		err = m.store.ApplySummaryDeltas(ctx, report.Deltas)
	}
	if err != nil {
		return err
	}
	if err := m.store.MarkKYCApproved(ctx, report.KYCApproved); err != nil {
		return err
	}
	return m.store.UpdateWindowBoundaries(ctx, report.TouchedIDs)
}

// transition moves the run to the next state, enforcing the legal edges.
// An illegal transition is a bug, not an operational failure.
func (m *Manager) transition(run *models.SyncRun, next models.SyncState) error {
	if !run.State.CanTransition(next) {
		return fmt.Errorf("illegal state transition %s -> %s", run.State, next)
	}
	logging.Debug().
		Str("source", run.Source).
		Str("from", string(run.State)).
		Str("to", string(next)).
		Msg("Sync state transition")
	run.State = next
	return nil
}

// failRun marks the run FAILED and records the cause. FAILED is reachable
// from every non-terminal state.
func (m *Manager) failRun(run *models.SyncRun, err error) *models.SyncRun {
	logging.Error().Err(err).
		Str("source", run.Source).
		Str("state", string(run.State)).
		Msg("Sync run failed")
	run.State = models.StateFailed
	run.Error = err.Error()
	return run
}
