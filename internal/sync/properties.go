// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/source"
)

// syncProperties runs one property feed sync: page records modified since
// the feed's watermark, skip unchanged values through the change filter,
// and advance the watermark to the latest observed modification time.
//
// Property feeds share the watermark table with event sources, keyed by
// source name, and follow the same commit discipline: the watermark only
// moves after the whole feed pass succeeded.
func (m *Manager) syncProperties(ctx context.Context, name string) error {
	src, ok := m.propertySources[name]
	if !ok {
		return fmt.Errorf("unknown property source: %s", name)
	}

	ctx = logging.ContextWithNewRunID(ctx)
	log := logging.Ctx(ctx)
	started := m.now()

	wm, err := m.store.GetWatermark(ctx, name)
	if err != nil {
		metrics.RecordSyncRun(name, m.now().Sub(started), err)
		return err
	}

	since := m.now().UTC().Add(-m.cfg.Sync.Lookback)
	if wm != nil {
		since = wm.LastEventTime.UTC().Add(-m.cfg.Sync.Overlap)
	}

	var written, skipped, observed int64
	var maxObserved time.Time

	cursor := ""
	for {
		var page *source.PropertyPage
		err := m.retryWithBackoff(ctx, func() error {
			p, fetchErr := src.FetchProperties(ctx, since, cursor, m.cfg.Sync.PageSize)
			if fetchErr != nil {
				return fetchErr
			}
			page = p
			return nil
		})
		if err != nil {
			metrics.RecordSyncRun(name, m.now().Sub(started), err)
			return err
		}

		for i := range page.Records {
			rec := &page.Records[i]
			observed++
			if t := rec.ObservedAt.UTC(); t.After(maxObserved) {
				maxObserved = t
			}

			wrote, err := m.applyProperties(ctx, name, rec.DistinctID, rec.Fields)
			if err != nil {
				metrics.RecordSyncRun(name, m.now().Sub(started), err)
				return err
			}
			if wrote {
				written++
			} else {
				skipped++
			}
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if !maxObserved.IsZero() {
		if err := m.store.SetWatermark(ctx, name, maxObserved, written); err != nil {
			metrics.RecordSyncRun(name, m.now().Sub(started), err)
			return err
		}
	}

	metrics.RecordSyncRun(name, m.now().Sub(started), nil)
	log.Info().
		Str("source", name).
		Int64("observed", observed).
		Int64("written", written).
		Int64("skipped", skipped).
		Msg("Property sync completed")
	return nil
}

// applyProperties writes one record through the change filter. A failed
// read of the stored values fails open: the write proceeds, because a
// spurious write is recoverable and a silently dropped change is not.
func (m *Manager) applyProperties(ctx context.Context, sourceName, distinctID string, fields map[string]any) (bool, error) {
	current, err := m.store.GetUserProperties(ctx, distinctID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("distinct_id", distinctID).
			Msg("Property read failed, writing without change detection")
		current = nil
	}

	if current != nil && !needsWrite(current, fields) {
		metrics.PropertyWritesSkipped.WithLabelValues(sourceName).Inc()
		return false, nil
	}

	if err := m.store.UpsertUserProperties(ctx, distinctID, fields); err != nil {
		return false, err
	}
	return true, nil
}
