// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
	"github.com/dubhq/dubsync/internal/source"
)

// memStore is an in-memory Store with the same observable semantics as the
// Postgres layer: natural-key dedup on insert, monotonic watermarks, and
// boundary recomputation from the raw event history.
type memStore struct {
	mu         sync.Mutex
	watermarks map[string]models.Watermark
	events     map[models.NaturalKey]models.RawEvent
	summaries  map[string]*models.Summary
	boundaries map[string]models.WindowBoundary

	failInsert    error
	failSummaries error
	failWatermark error
	failPropRead  error
}

func newMemStore() *memStore {
	return &memStore{
		watermarks: make(map[string]models.Watermark),
		events:     make(map[models.NaturalKey]models.RawEvent),
		summaries:  make(map[string]*models.Summary),
		boundaries: make(map[string]models.WindowBoundary),
	}
}

func (s *memStore) GetWatermark(_ context.Context, sourceName string) (*models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[sourceName]
	if !ok {
		return nil, nil
	}
	copied := wm
	return &copied, nil
}

func (s *memStore) SetWatermark(_ context.Context, sourceName string, lastEventTime time.Time, eventsDelta int64) error {
	if s.failWatermark != nil {
		return s.failWatermark
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wm := s.watermarks[sourceName]
	wm.Source = sourceName
	if lastEventTime.After(wm.LastEventTime) {
		wm.LastEventTime = lastEventTime.UTC()
	}
	wm.TotalEventsSynced += eventsDelta
	wm.UpdatedAt = time.Now()
	s.watermarks[sourceName] = wm
	return nil
}

func (s *memStore) InsertRawEvents(_ context.Context, events []models.RawEvent) ([]models.RawEvent, error) {
	if s.failInsert != nil {
		return nil, s.failInsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []models.RawEvent
	for _, ev := range events {
		key := ev.NaturalKey()
		if _, exists := s.events[key]; exists {
			continue
		}
		s.events[key] = ev
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

func (s *memStore) ApplySummaryDeltas(_ context.Context, deltas []models.EntityDelta) error {
	if s.failSummaries != nil {
		return s.failSummaries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		row := s.summaryRow(d.DistinctID)
		row.Copies += d.Copies
		row.Subscriptions += d.Subscriptions
		row.PortfolioViews += d.PortfolioViews
		row.LastUpdated = time.Now()
	}
	return nil
}

func (s *memStore) RecomputeSummaries(_ context.Context, distinctIDs []string, from time.Time) error {
	if s.failSummaries != nil {
		return s.failSummaries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range distinctIDs {
		row := s.summaryRow(id)
		row.Copies, row.Subscriptions, row.PortfolioViews = 0, 0, 0
		for _, ev := range s.events {
			if ev.DistinctID != id || ev.EventTime.Before(from) {
				continue
			}
			switch ev.EventName {
			case models.EventCopyCreated:
				row.Copies++
			case models.EventSubscriptionCreated:
				row.Subscriptions++
			case models.EventPortfolioView:
				row.PortfolioViews++
			}
		}
		row.LastUpdated = time.Now()
	}
	return nil
}

func (s *memStore) MarkKYCApproved(_ context.Context, distinctIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range distinctIDs {
		s.summaryRow(id).KYCApproved = true
	}
	return nil
}

func (s *memStore) UpdateWindowBoundaries(_ context.Context, distinctIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range distinctIDs {
		var start, end *time.Time
		for _, ev := range s.events {
			if ev.DistinctID != id || ev.EventName != models.EventKYCApproved {
				continue
			}
			t := ev.EventTime
			if start == nil || t.Before(*start) {
				start = &t
			}
		}
		if start != nil {
			for _, ev := range s.events {
				if ev.DistinctID != id || ev.EventName != models.EventCopyCreated {
					continue
				}
				if ev.EventTime.Before(*start) {
					continue
				}
				t := ev.EventTime
				if end == nil || t.Before(*end) {
					end = &t
				}
			}
		}
		s.boundaries[id] = models.WindowBoundary{DistinctID: id, WindowStart: start, WindowEnd: end}
	}
	return nil
}

func (s *memStore) GetUserProperties(_ context.Context, distinctID string) (map[string]any, error) {
	if s.failPropRead != nil {
		return nil, s.failPropRead
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.summaries[distinctID]
	if !ok {
		return nil, nil
	}
	props := map[string]any{
		"plan":            nil,
		"country":         nil,
		"support_tickets": nil,
		"open_issues":     nil,
	}
	if row.Plan != nil {
		props["plan"] = *row.Plan
	}
	if row.Country != nil {
		props["country"] = *row.Country
	}
	if row.SupportTickets != nil {
		props["support_tickets"] = *row.SupportTickets
	}
	if row.OpenIssues != nil {
		props["open_issues"] = *row.OpenIssues
	}
	return props, nil
}

func (s *memStore) UpsertUserProperties(_ context.Context, distinctID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.summaryRow(distinctID)
	for col, val := range fields {
		switch col {
		case "plan":
			if v, ok := val.(string); ok {
				row.Plan = &v
			}
		case "country":
			if v, ok := val.(string); ok {
				row.Country = &v
			}
		case "support_tickets":
			if v, ok := val.(int64); ok {
				row.SupportTickets = &v
			}
		case "open_issues":
			if v, ok := val.(int64); ok {
				row.OpenIssues = &v
			}
		}
	}
	row.LastUpdated = time.Now()
	return nil
}

// summaryRow returns the row for a user, creating it if absent. Callers
// hold s.mu.
func (s *memStore) summaryRow(distinctID string) *models.Summary {
	row, ok := s.summaries[distinctID]
	if !ok {
		row = &models.Summary{DistinctID: distinctID}
		s.summaries[distinctID] = row
	}
	return row
}

func (s *memStore) summary(distinctID string) models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.summaries[distinctID]
	if !ok {
		return models.Summary{}
	}
	return *row
}

func (s *memStore) watermark(sourceName string) models.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[sourceName]
}

// fakeEventSource serves predefined pages of events. A non-empty errs
// queue fails the next fetches in order before pages resume.
type fakeEventSource struct {
	name  string
	pages [][]models.RawEvent
	errs  []error

	mu      sync.Mutex
	fetches int
	queries []source.EventQuery
}

func (f *fakeEventSource) Name() string { return f.name }

func (f *fakeEventSource) Ping(context.Context) error { return nil }

func (f *fakeEventSource) FetchEvents(_ context.Context, q source.EventQuery) (*source.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.queries = append(f.queries, q)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	idx := 0
	if q.Cursor != "" {
		parsed, err := strconv.Atoi(q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", q.Cursor)
		}
		idx = parsed
	}
	if idx >= len(f.pages) {
		return &source.EventPage{HasMore: false}, nil
	}
	return &source.EventPage{
		Events:     f.pages[idx],
		NextCursor: strconv.Itoa(idx + 1),
		HasMore:    idx+1 < len(f.pages),
	}, nil
}

// fakePropertySource serves predefined pages of property records.
type fakePropertySource struct {
	name  string
	pages [][]models.EntityProperties
}

func (f *fakePropertySource) Name() string { return f.name }

func (f *fakePropertySource) Ping(context.Context) error { return nil }

func (f *fakePropertySource) FetchProperties(_ context.Context, _ time.Time, cursor string, _ int) (*source.PropertyPage, error) {
	idx := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", cursor)
		}
		idx = parsed
	}
	if idx >= len(f.pages) {
		return &source.PropertyPage{HasMore: false}, nil
	}
	return &source.PropertyPage{
		Records:    f.pages[idx],
		NextCursor: strconv.Itoa(idx + 1),
		HasMore:    idx+1 < len(f.pages),
	}, nil
}

// testConfig returns a config tuned for fast tests.
func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			Interval:      time.Hour,
			Lookback:      60 * 24 * time.Hour,
			Overlap:       2 * time.Hour,
			PageSize:      1000,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
			RateLimit:     1000,
			Burst:         1000,
		},
	}
}

// newTestManager wires a manager with the fake store and a fixed clock.
func newTestManager(store Store, at time.Time) *Manager {
	m := NewManager(store, testConfig())
	m.now = func() time.Time { return at }
	return m
}
