// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"sort"
	"time"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/metrics"
	"github.com/dubhq/dubsync/internal/models"
	"github.com/dubhq/dubsync/internal/source"
)

// ingestRange pages all events for [from, to] from the source and inserts
// them, accumulating the ingest report.
//
// The watermark candidate (MaxEventTime) tracks every observed event, but
// counter deltas come exclusively from rows the database reports as newly
// inserted. An overlap re-fetch therefore advances nothing twice: its
// events collide with the natural key, come back excluded from the
// RETURNING set, and contribute no delta.
func (m *Manager) ingestRange(ctx context.Context, src source.EventSource, from, to time.Time) (*models.IngestReport, error) {
	report := &models.IngestReport{}
	deltas := make(map[string]*models.EntityDelta)
	kyc := make(map[string]bool)
	touched := make(map[string]bool)

	cursor := ""
	for {
		var page *source.EventPage
		err := m.retryWithBackoff(ctx, func() error {
			p, fetchErr := src.FetchEvents(ctx, source.EventQuery{
				From:     from,
				To:       to,
				Cursor:   cursor,
				PageSize: m.cfg.Sync.PageSize,
			})
			if fetchErr != nil {
				return fetchErr
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, err
		}

		var inserted []models.RawEvent
		err = m.retryWithBackoff(ctx, func() error {
			rows, insErr := m.store.InsertRawEvents(ctx, page.Events)
			if insErr != nil {
				return insErr
			}
			inserted = rows
			return nil
		})
		if err != nil {
			return nil, err
		}

		report.Observed += int64(len(page.Events))
		report.Inserted += int64(len(inserted))
		metrics.RecordIngestPage(src.Name(), len(page.Events), len(inserted))

		// Touched users and KYC flags derive from every observed event, so
		// a re-run over already-stored data still recomputes their
		// summaries and boundaries. Counter deltas derive from inserted
		// rows only.
		for i := range page.Events {
			ev := &page.Events[i]
			if t := ev.EventTime.UTC(); t.After(report.MaxEventTime) {
				report.MaxEventTime = t
			}
			touched[ev.DistinctID] = true
			if ev.EventName == models.EventKYCApproved {
				kyc[ev.DistinctID] = true
			}
		}
		for i := range inserted {
			accumulateDelta(&inserted[i], deltas)
		}

		logging.Ctx(ctx).Debug().
			Str("source", src.Name()).
			Int("observed", len(page.Events)).
			Int("inserted", len(inserted)).
			Bool("has_more", page.HasMore).
			Msg("Ingested page")

		// End-of-stream is the source's explicit signal, never inferred
		// from a short page.
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	report.Deltas = flattenDeltas(deltas)
	report.KYCApproved = sortedKeys(kyc)
	report.TouchedIDs = sortedKeys(touched)
	return report, nil
}

// accumulateDelta folds one newly inserted event into the per-user counter
// deltas. Unrecognized event names land in raw storage but move no counter.
func accumulateDelta(ev *models.RawEvent, deltas map[string]*models.EntityDelta) {
	switch ev.EventName {
	case models.EventCopyCreated:
		deltaFor(deltas, ev.DistinctID).Copies++
	case models.EventSubscriptionCreated:
		deltaFor(deltas, ev.DistinctID).Subscriptions++
	case models.EventPortfolioView:
		deltaFor(deltas, ev.DistinctID).PortfolioViews++
	}
}

func deltaFor(deltas map[string]*models.EntityDelta, distinctID string) *models.EntityDelta {
	d, ok := deltas[distinctID]
	if !ok {
		d = &models.EntityDelta{DistinctID: distinctID}
		deltas[distinctID] = d
	}
	return d
}

// flattenDeltas returns the accumulated deltas ordered by distinct ID so
// batch statements are deterministic.
func flattenDeltas(deltas map[string]*models.EntityDelta) []models.EntityDelta {
	out := make([]models.EntityDelta, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistinctID < out[j].DistinctID })
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
