// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
)

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		RateLimit: 1000,
		Burst:     1000,
		PageSize:  1000,
	}
}

func newTestMixpanel(serverURL string) *MixpanelClient {
	return NewMixpanelClient(&config.EventSourceConfig{
		Enabled:   true,
		URL:       serverURL,
		APISecret: "secret",
		ProjectID: "proj-1",
	}, testSyncConfig())
}

func TestMixpanelFetchEvents(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{
			"from_date": r.URL.Query().Get("from_date"),
			"to_date":   r.URL.Query().Get("to_date"),
			"page_size": r.URL.Query().Get("page_size"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"results": [
				{"distinct_id": "u1", "event": "copy_created", "time": "2026-03-01T10:00:00Z",
				 "properties": {"item_id": "pf-9"}},
				{"distinct_id": "u2", "event": "portfolio_view", "time": "2026-03-01T11:00:00Z",
				 "properties": {"$insert_id": "ins-42"}},
				{"distinct_id": "u3", "event": "kyc_approved", "time": "2026-03-01T12:00:00Z",
				 "properties": {}}
			],
			"paging": {"next": "cursor-2", "has_more": true}
		}`))
	}))
	defer server.Close()

	client := newTestMixpanel(server.URL)
	page, err := client.FetchEvents(context.Background(), EventQuery{
		From:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		PageSize: 500,
	})
	checkNoError(t, err)

	checkStringEqual(t, "path", gotPath, "/api/2.0/export")
	checkStringEqual(t, "from_date", gotQuery["from_date"], "2026-03-01T00:00:00Z")
	checkStringEqual(t, "to_date", gotQuery["to_date"], "2026-03-02T00:00:00Z")
	checkStringEqual(t, "page_size", gotQuery["page_size"], "500")

	checkSliceLen(t, "events", len(page.Events), 3)
	checkStringEqual(t, "next cursor", page.NextCursor, "cursor-2")
	checkTrue(t, "has more", page.HasMore)

	ev := page.Events[0]
	checkStringEqual(t, "source", ev.Source, "mixpanel")
	checkStringEqual(t, "distinct_id", ev.DistinctID, "u1")
	checkStringEqual(t, "event_name", ev.EventName, models.EventCopyCreated)
	checkStringEqual(t, "secondary_key", ev.SecondaryKey, "pf-9")
	if !ev.EventTime.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("event_time: got %v", ev.EventTime)
	}

	// Secondary key falls back to the insert ID, then the event name.
	checkStringEqual(t, "insert-id fallback", page.Events[1].SecondaryKey, "ins-42")
	checkStringEqual(t, "event-name fallback", page.Events[2].SecondaryKey, "kyc_approved")
}

func TestMixpanelFetchEventsVendorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "error": "invalid date range", "results": []}`))
	}))
	defer server.Close()

	_, err := newTestMixpanel(server.URL).FetchEvents(context.Background(), EventQuery{
		From: time.Now().Add(-time.Hour),
		To:   time.Now(),
	})
	checkError(t, err)
}

func TestMixpanelFetchEventsDistinctIDs(t *testing.T) {
	var gotIDs string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("distinct_ids")
		w.Write([]byte(`{"status": "ok", "results": [], "paging": {"next": "", "has_more": false}}`))
	}))
	defer server.Close()

	page, err := newTestMixpanel(server.URL).FetchEvents(context.Background(), EventQuery{
		From:        time.Now().Add(-time.Hour),
		To:          time.Now(),
		DistinctIDs: []string{"u1", "u2"},
	})
	checkNoError(t, err)
	checkStringEqual(t, "distinct_ids", gotIDs, "u1,u2")
	checkSliceLen(t, "events", len(page.Events), 0)
	checkTrue(t, "end of stream", !page.HasMore)
}

func TestMixpanelBasicAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status": "ok", "results": [], "paging": {"next": "", "has_more": false}}`))
	}))
	defer server.Close()

	err := newTestMixpanel(server.URL).Ping(context.Background())
	checkNoError(t, err)
	// base64("secret:")
	checkStringEqual(t, "Authorization", gotAuth, "Basic c2VjcmV0Og==")
}
