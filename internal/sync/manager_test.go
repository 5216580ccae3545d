// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dubhq/dubsync/internal/models"
	"github.com/dubhq/dubsync/internal/source"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// eventAt builds a test event with a deterministic natural key.
func eventAt(i int, distinctID, name string) models.RawEvent {
	return models.RawEvent{
		Source:       "mixpanel",
		DistinctID:   distinctID,
		EventName:    name,
		EventTime:    testNow.Add(-48 * time.Hour).Add(time.Duration(i) * time.Minute),
		SecondaryKey: fmt.Sprintf("sk-%d", i),
	}
}

// firstSyncEvents builds the 100-event first-sync batch over three users
// and returns the expected per-user counter totals.
func firstSyncEvents() ([]models.RawEvent, map[string]models.EntityDelta) {
	users := []string{"u1", "u2", "u3"}
	expected := map[string]models.EntityDelta{
		"u1": {DistinctID: "u1"},
		"u2": {DistinctID: "u2"},
		"u3": {DistinctID: "u3"},
	}

	var events []models.RawEvent
	add := func(i int, user, name string) {
		events = append(events, eventAt(i, user, name))
		d := expected[user]
		switch name {
		case models.EventCopyCreated:
			d.Copies++
		case models.EventSubscriptionCreated:
			d.Subscriptions++
		case models.EventPortfolioView:
			d.PortfolioViews++
		}
		expected[user] = d
	}

	add(1, "u1", models.EventKYCApproved)
	add(2, "u2", models.EventKYCApproved)
	for i := 3; i <= 70; i++ {
		add(i, users[i%3], models.EventPortfolioView)
	}
	add(71, "u1", models.EventCopyCreated)
	add(72, "u2", models.EventSubscriptionCreated)
	for i := 73; i <= 100; i++ {
		add(i, "u3", models.EventPortfolioView)
	}
	return events, expected
}

func TestFirstSyncReplacesTotals(t *testing.T) {
	events, expected := firstSyncEvents()
	store := newMemStore()
	m := newTestManager(store, testNow)
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{
		events[:40], events[40:80], events[80:],
	}})

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)

	checkStringEqual(t, "state", string(run.State), string(models.StateDone))
	checkStringEqual(t, "mode", string(run.Mode), string(models.ModeReplace))
	checkInt64Equal(t, "observed", run.Observed, 100)
	checkInt64Equal(t, "inserted", run.Inserted, 100)

	// First sync window is the configured lookback ending now.
	checkTrue(t, "from = now-lookback", run.From.Equal(testNow.Add(-60*24*time.Hour)))
	checkTrue(t, "to = now", run.To.Equal(testNow))

	for user, want := range expected {
		got := store.summary(user)
		checkInt64Equal(t, user+" copies", got.Copies, want.Copies)
		checkInt64Equal(t, user+" subscriptions", got.Subscriptions, want.Subscriptions)
		checkInt64Equal(t, user+" portfolio_views", got.PortfolioViews, want.PortfolioViews)
	}
	checkTrue(t, "u1 kyc flag", store.summary("u1").KYCApproved)
	checkTrue(t, "u3 kyc flag unset", !store.summary("u3").KYCApproved)

	// Watermark lands on the newest observed event.
	wm := store.watermark("mixpanel")
	checkTrue(t, "watermark = max event time", wm.LastEventTime.Equal(eventAt(100, "", "").EventTime))
	checkInt64Equal(t, "total synced", wm.TotalEventsSynced, 100)

	// u1 completed KYC before its first copy, so its window is closed.
	b := store.boundaries["u1"]
	checkTrue(t, "u1 window complete", b.Complete())
	checkTrue(t, "u1 window start", b.WindowStart.Equal(eventAt(1, "", "").EventTime))
	checkTrue(t, "u1 window end", b.WindowEnd.Equal(eventAt(71, "", "").EventTime))

	// u3 never passed KYC: boundary row exists but the window stays open.
	b3 := store.boundaries["u3"]
	checkTrue(t, "u3 window incomplete", !b3.Complete())
	checkTrue(t, "u3 window start nil", b3.WindowStart == nil)
}

func TestIncrementalAddsOnlyNewEvents(t *testing.T) {
	events, expected := firstSyncEvents()
	store := newMemStore()
	m := newTestManager(store, testNow)
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{events}})

	_, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)

	// Second run: the overlap re-delivers the last three events alongside
	// five genuinely new ones.
	newEvents := []models.RawEvent{
		eventAt(101, "u1", models.EventCopyCreated),
		eventAt(102, "u1", models.EventPortfolioView),
		eventAt(103, "u2", models.EventPortfolioView),
		eventAt(104, "u2", models.EventPortfolioView),
		eventAt(105, "u2", models.EventSubscriptionCreated),
	}
	page := append(append([]models.RawEvent{}, events[97:]...), newEvents...)
	incSource := &fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{page}}
	m.RegisterEventSource(incSource)

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)

	checkStringEqual(t, "mode", string(run.Mode), string(models.ModeAdd))
	checkInt64Equal(t, "observed", run.Observed, 8)
	checkInt64Equal(t, "inserted", run.Inserted, 5)

	// The range resumes from the watermark minus the overlap.
	q := incSource.queries[0]
	wantFrom := eventAt(100, "", "").EventTime.Add(-2 * time.Hour)
	checkTrue(t, "from = watermark-overlap", q.From.Equal(wantFrom))

	// Overlap duplicates contribute nothing; only the new events count.
	u1 := store.summary("u1")
	checkInt64Equal(t, "u1 copies", u1.Copies, expected["u1"].Copies+1)
	checkInt64Equal(t, "u1 portfolio_views", u1.PortfolioViews, expected["u1"].PortfolioViews+1)
	u2 := store.summary("u2")
	checkInt64Equal(t, "u2 portfolio_views", u2.PortfolioViews, expected["u2"].PortfolioViews+2)
	checkInt64Equal(t, "u2 subscriptions", u2.Subscriptions, expected["u2"].Subscriptions+1)

	wm := store.watermark("mixpanel")
	checkTrue(t, "watermark advanced", wm.LastEventTime.Equal(eventAt(105, "", "").EventTime))
	checkInt64Equal(t, "total synced", wm.TotalEventsSynced, 105)
}

func TestFailedRunLeavesWatermarkAndConverges(t *testing.T) {
	events, expected := firstSyncEvents()
	store := newMemStore()
	store.failSummaries = errors.New("summaries unavailable")
	m := newTestManager(store, testNow)
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{events}})

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkError(t, err)
	checkStringEqual(t, "state", string(run.State), string(models.StateFailed))

	// Aggregation failed after ingestion, so the watermark must not move.
	wm := store.watermark("mixpanel")
	checkTrue(t, "watermark untouched", wm.LastEventTime.IsZero())

	// The retried run sees only duplicates but still converges: REPLACE
	// recomputes totals from the stored events.
	store.failSummaries = nil
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{events}})
	run, err = m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)
	checkInt64Equal(t, "observed", run.Observed, 100)
	checkInt64Equal(t, "inserted", run.Inserted, 0)

	for user, want := range expected {
		got := store.summary(user)
		checkInt64Equal(t, user+" copies", got.Copies, want.Copies)
		checkInt64Equal(t, user+" portfolio_views", got.PortfolioViews, want.PortfolioViews)
	}
}

func TestFirstSyncRecomputeIgnoresEventsBeforeLookback(t *testing.T) {
	events, expected := firstSyncEvents()
	store := newMemStore()

	// A leftover event older than the lookback horizon, already stored. A
	// first-sync retry at a later wall clock must not fold it into the
	// recomputed totals.
	stale := models.RawEvent{
		Source:       "mixpanel",
		DistinctID:   "u1",
		EventName:    models.EventCopyCreated,
		EventTime:    testNow.Add(-70 * 24 * time.Hour),
		SecondaryKey: "sk-stale",
	}
	_, err := store.InsertRawEvents(context.Background(), []models.RawEvent{stale})
	checkNoError(t, err)

	m := newTestManager(store, testNow)
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: [][]models.RawEvent{events}})

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)
	checkStringEqual(t, "mode", string(run.Mode), string(models.ModeReplace))

	// Totals cover the sync range only; the stale copy stays out.
	checkInt64Equal(t, "u1 copies", store.summary("u1").Copies, expected["u1"].Copies)
}

func TestEmptyRangeLeavesWatermark(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, testNow)
	m.RegisterEventSource(&fakeEventSource{name: "mixpanel", pages: nil})

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)
	checkStringEqual(t, "state", string(run.State), string(models.StateDone))
	checkInt64Equal(t, "observed", run.Observed, 0)
	checkTrue(t, "watermark untouched", store.watermark("mixpanel").LastEventTime.IsZero())
}

func TestTriggerSyncUnknownSource(t *testing.T) {
	m := newTestManager(newMemStore(), testNow)
	_, err := m.TriggerSync(context.Background(), "nonexistent")
	checkError(t, err)
}

func TestTransientFetchErrorIsRetried(t *testing.T) {
	events, _ := firstSyncEvents()
	store := newMemStore()
	m := newTestManager(store, testNow)
	src := &fakeEventSource{
		name:  "mixpanel",
		pages: [][]models.RawEvent{events},
		errs:  []error{errors.New("connection reset"), errors.New("connection reset")},
	}
	m.RegisterEventSource(src)

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)
	checkStringEqual(t, "state", string(run.State), string(models.StateDone))
	checkInt64Equal(t, "inserted", run.Inserted, 100)
}

func TestPermanentFetchErrorAborts(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, testNow)
	src := &fakeEventSource{
		name: "mixpanel",
		errs: []error{fmt.Errorf("%w: status 401", source.ErrPermanent)},
	}
	m.RegisterEventSource(src)

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkError(t, err)
	checkStringEqual(t, "state", string(run.State), string(models.StateFailed))
	// No retries on permanent failures.
	if src.fetches != 1 {
		t.Errorf("expected 1 fetch, got %d", src.fetches)
	}
}

func TestRateLimitedFetchRetriesWithoutConsumingAttempts(t *testing.T) {
	events, _ := firstSyncEvents()
	store := newMemStore()
	m := newTestManager(store, testNow)
	rateLimited := fmt.Errorf("%w: status 429", source.ErrRateLimited)
	src := &fakeEventSource{
		name:  "mixpanel",
		pages: [][]models.RawEvent{events},
		// More 429s than the attempt budget; each waits and retries.
		errs: []error{rateLimited, rateLimited, rateLimited, rateLimited},
	}
	m.RegisterEventSource(src)

	run, err := m.TriggerSync(context.Background(), "mixpanel")
	checkNoError(t, err)
	checkStringEqual(t, "state", string(run.State), string(models.StateDone))
}
