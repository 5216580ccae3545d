// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
)

const linearAssigneesPath = "/api/v1/issues/assignees"

// LinearClient implements PropertySource against a Linear-style issue
// tracker API. The assignee rollup endpoint reports the open issue count per
// customer, cursor-paged and filtered by modification time.
type LinearClient struct {
	http *httpClient
}

// NewLinearClient creates an issue tracker client from configuration.
func NewLinearClient(cfg *config.PropertySourceConfig, sync *config.SyncConfig) *LinearClient {
	return &LinearClient{
		http: newHTTPClient("linear", cfg.URL, sync.RateLimit, sync.Burst, map[string]string{
			"Authorization": "Bearer " + cfg.Token,
			"Accept":        "application/json",
		}),
	}
}

// Name implements PropertySource.
func (c *LinearClient) Name() string { return "linear" }

// Ping verifies connectivity and credentials.
func (c *LinearClient) Ping(ctx context.Context) error {
	_, err := c.FetchProperties(ctx, time.Now().UTC().Add(-time.Minute), "", 1)
	return err
}

type linearAssignee struct {
	CustomerID string    `json:"customer_id"`
	OpenIssues int64     `json:"open_issues"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type linearAssigneesResponse struct {
	Assignees []linearAssignee `json:"assignees"`
	Cursor    string           `json:"cursor"`
	HasMore   bool             `json:"has_more"`
}

// FetchProperties implements PropertySource.
func (c *LinearClient) FetchProperties(ctx context.Context, since time.Time, cursor string, pageSize int) (*PropertyPage, error) {
	req := newAPIRequest(linearAssigneesPath).
		addTimeParam("updated_since", since).
		addIntParam("limit", pageSize).
		addParam("cursor", cursor)

	resp, err := fetchJSON[linearAssigneesResponse](ctx, c.http, req)
	if err != nil {
		return nil, err
	}

	page := &PropertyPage{
		Records:    make([]models.EntityProperties, 0, len(resp.Assignees)),
		NextCursor: resp.Cursor,
		HasMore:    resp.HasMore,
	}
	for _, a := range resp.Assignees {
		if a.CustomerID == "" {
			continue
		}
		page.Records = append(page.Records, models.EntityProperties{
			DistinctID: a.CustomerID,
			Fields:     map[string]any{"open_issues": a.OpenIssues},
			ObservedAt: a.UpdatedAt.UTC(),
		})
	}
	return page, nil
}
