// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
)

const zendeskIncrementalUsersPath = "/api/v2/incremental/users"

// ZendeskClient implements PropertySource against a Zendesk-style
// incremental user export. Each record carries the user's external ID and
// ticket count; the feed is ordered by modification time and paged on a
// cursor.
type ZendeskClient struct {
	http *httpClient
}

// NewZendeskClient creates an incremental export client from configuration.
func NewZendeskClient(cfg *config.PropertySourceConfig, sync *config.SyncConfig) *ZendeskClient {
	return &ZendeskClient{
		http: newHTTPClient("zendesk", cfg.URL, sync.RateLimit, sync.Burst, map[string]string{
			"Authorization": "Bearer " + cfg.Token,
			"Accept":        "application/json",
		}),
	}
}

// Name implements PropertySource.
func (c *ZendeskClient) Name() string { return "zendesk" }

// Ping verifies connectivity and credentials.
func (c *ZendeskClient) Ping(ctx context.Context) error {
	_, err := c.FetchProperties(ctx, time.Now().UTC().Add(-time.Minute), "", 1)
	return err
}

type zendeskUser struct {
	ExternalID  string    `json:"external_id"`
	TicketCount int64     `json:"ticket_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type zendeskUsersResponse struct {
	Users       []zendeskUser `json:"users"`
	AfterCursor string        `json:"after_cursor"`
	EndOfStream bool          `json:"end_of_stream"`
}

// FetchProperties implements PropertySource. Records without an external ID
// cannot be joined to a summary row and are skipped.
func (c *ZendeskClient) FetchProperties(ctx context.Context, since time.Time, cursor string, pageSize int) (*PropertyPage, error) {
	req := newAPIRequest(zendeskIncrementalUsersPath).
		addIntParam("per_page", pageSize).
		addParam("cursor", cursor)
	if cursor == "" {
		req.addParam("start_time", fmt.Sprintf("%d", since.UTC().Unix()))
	}

	resp, err := fetchJSON[zendeskUsersResponse](ctx, c.http, req)
	if err != nil {
		return nil, err
	}

	page := &PropertyPage{
		Records:    make([]models.EntityProperties, 0, len(resp.Users)),
		NextCursor: resp.AfterCursor,
		HasMore:    !resp.EndOfStream,
	}
	for _, u := range resp.Users {
		if u.ExternalID == "" {
			continue
		}
		page.Records = append(page.Records, models.EntityProperties{
			DistinctID: u.ExternalID,
			Fields:     map[string]any{"support_tickets": u.TicketCount},
			ObservedAt: u.UpdatedAt.UTC(),
		})
	}
	return page, nil
}
