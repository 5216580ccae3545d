// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
)

// mixpanelExportPath is the raw event export endpoint.
const mixpanelExportPath = "/api/2.0/export"

// MixpanelClient implements EventSource against a Mixpanel-style export API.
//
// The export endpoint pages events for an inclusive date range; pagination
// resumes on an opaque session cursor. The API secret authenticates via
// HTTP basic auth with an empty password.
type MixpanelClient struct {
	http      *httpClient
	projectID string
}

// NewMixpanelClient creates an export API client from configuration.
func NewMixpanelClient(cfg *config.EventSourceConfig, sync *config.SyncConfig) *MixpanelClient {
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.APISecret + ":"))
	return &MixpanelClient{
		http: newHTTPClient("mixpanel", cfg.URL, sync.RateLimit, sync.Burst, map[string]string{
			"Authorization": "Basic " + auth,
			"Accept":        "application/json",
		}),
		projectID: cfg.ProjectID,
	}
}

// Name implements EventSource.
func (c *MixpanelClient) Name() string { return "mixpanel" }

// Ping verifies connectivity and credentials with a minimal export request.
func (c *MixpanelClient) Ping(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := c.FetchEvents(ctx, EventQuery{
		From:     now.Add(-time.Minute),
		To:       now,
		PageSize: 1,
	})
	return err
}

// mixpanelEvent is one exported event record.
type mixpanelEvent struct {
	DistinctID string         `json:"distinct_id"`
	Event      string         `json:"event"`
	Time       time.Time      `json:"time"`
	Properties map[string]any `json:"properties"`
}

// mixpanelExportResponse is the export endpoint envelope.
type mixpanelExportResponse struct {
	Status  string          `json:"status"`
	Error   *string         `json:"error,omitempty"`
	Results []mixpanelEvent `json:"results"`
	Paging  struct {
		Next    string `json:"next"`
		HasMore bool   `json:"has_more"`
	} `json:"paging"`
}

// FetchEvents implements EventSource.
func (c *MixpanelClient) FetchEvents(ctx context.Context, q EventQuery) (*EventPage, error) {
	req := newAPIRequest(mixpanelExportPath).
		addTimeParam("from_date", q.From).
		addTimeParam("to_date", q.To).
		addIntParam("page_size", q.PageSize).
		addParam("cursor", q.Cursor).
		addParam("project_id", c.projectID)
	if len(q.DistinctIDs) > 0 {
		req.addParam("distinct_ids", strings.Join(q.DistinctIDs, ","))
	}

	resp, err := fetchJSON[mixpanelExportResponse](ctx, c.http, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		msg := "unknown error"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return nil, fmt.Errorf("export request failed: %s", msg)
	}

	page := &EventPage{
		Events:     make([]models.RawEvent, 0, len(resp.Results)),
		NextCursor: resp.Paging.Next,
		HasMore:    resp.Paging.HasMore,
	}
	for i := range resp.Results {
		page.Events = append(page.Events, c.mapEvent(&resp.Results[i]))
	}
	return page, nil
}

// mapEvent converts an exported record to the internal raw event shape.
// The secondary key prefers the referenced entity identifier, then the
// vendor insert ID, then the event name, so the natural-key triple is
// always populated.
func (c *MixpanelClient) mapEvent(ev *mixpanelEvent) models.RawEvent {
	secondary := propString(ev.Properties, "item_id")
	if secondary == "" {
		secondary = propString(ev.Properties, "$insert_id")
	}
	if secondary == "" {
		secondary = ev.Event
	}
	return models.RawEvent{
		Source:       c.Name(),
		DistinctID:   ev.DistinctID,
		EventName:    ev.Event,
		EventTime:    ev.Time.UTC(),
		SecondaryKey: secondary,
		Payload:      ev.Properties,
	}
}

// propString extracts a string property, tolerating missing keys.
func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
