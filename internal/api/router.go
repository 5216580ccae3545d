// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package api provides the operational HTTP surface: health, metrics, sync
// status and triggering, and the windowed cohort analytics endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/models"
)

// SyncManager is the orchestration surface the API exposes.
type SyncManager interface {
	TriggerSync(ctx context.Context, name string) (*models.SyncRun, error)
	LastRuns() map[string]models.SyncRun
	Sources() []string
}

// Analytics is the read-side query surface.
type Analytics interface {
	Ping(ctx context.Context) error
	CopyWindowMetrics(ctx context.Context) (*models.WindowedMetrics, error)
}

// Router wires handlers to dependencies.
type Router struct {
	manager   SyncManager
	analytics Analytics
	cfg       *config.ServerConfig
}

// NewRouter creates the API router.
func NewRouter(manager SyncManager, analytics Analytics, cfg *config.ServerConfig) *Router {
	return &Router{manager: manager, analytics: analytics, cfg: cfg}
}

// Setup builds the HTTP handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(router.cfg.Timeout))

	r.Get("/healthz", router.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sync/status", router.SyncStatus)

		// Manual triggers are rate limited per client IP; a runaway
		// dashboard must not turn into a vendor API hammer.
		r.With(httprate.LimitByIP(router.cfg.TriggerRateLimit, time.Minute)).
			Post("/sync/trigger", router.TriggerSync)

		r.Get("/metrics/copy-window", router.CopyWindow)
	})

	return r
}
