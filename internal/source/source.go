// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package source contains the vendor API clients feeding the sync pipeline.
//
// Two collaborator shapes exist:
//
//   - EventSource pages raw analytics events for a bounded date range
//     (Mixpanel-style export API).
//   - PropertySource pages entity property documents on a cursor
//     (Zendesk users, Linear issues).
//
// Both report rate-limit rejections distinctly from other failures so the
// orchestrator can apply the configured inter-page delay, and classify
// authentication or malformed-range errors as permanent so they are never
// retried.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/dubhq/dubsync/internal/models"
)

// ErrRateLimited marks an HTTP 429 rejection from a vendor API.
// Retryable after the configured delay.
var ErrRateLimited = errors.New("source rate limited")

// ErrPermanent marks a non-retryable failure (auth failure, malformed
// range). The sync run aborts immediately.
var ErrPermanent = errors.New("permanent source error")

// EventQuery bounds one page fetch against an event source.
type EventQuery struct {
	// From and To bound the date range, inclusive on both ends at the
	// vendor API level. The windowed-metric boundary semantics are applied
	// later, in SQL.
	From time.Time
	To   time.Time

	// DistinctIDs optionally restricts the fetch to specific users.
	DistinctIDs []string

	// Cursor resumes pagination; empty requests the first page.
	Cursor string

	// PageSize is the maximum events per page.
	PageSize int
}

// EventPage is one page of events plus pagination state. HasMore false
// signals end-of-stream explicitly; callers must not infer it from a short
// page.
type EventPage struct {
	Events     []models.RawEvent
	NextCursor string
	HasMore    bool
}

// EventSource streams raw analytics events for a bounded date range.
// Implementations must be safe for concurrent use.
type EventSource interface {
	// Name identifies the source; used as the watermark key.
	Name() string

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error

	// FetchEvents returns one page of events for the query.
	FetchEvents(ctx context.Context, q EventQuery) (*EventPage, error)
}

// PropertyPage is one page of entity property documents.
type PropertyPage struct {
	Records    []models.EntityProperties
	NextCursor string
	HasMore    bool
}

// PropertySource pages entity property documents modified since a given
// instant, ordered by modification time.
type PropertySource interface {
	Name() string
	Ping(ctx context.Context) error
	FetchProperties(ctx context.Context, since time.Time, cursor string, pageSize int) (*PropertyPage, error)
}
