// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package main is the entry point for the Dubsync synchronization daemon.
//
// Dubsync incrementally pulls raw product events from the Mixpanel export
// API and entity properties from Zendesk and Linear, lands them in
// Postgres with watermark-based resumption, and maintains per-user
// aggregate summaries and KYC-to-first-copy window boundaries.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layering of defaults, config.yaml, and
//     environment variables (MIXPANEL_API_SECRET, DATABASE_DSN, ...)
//  2. Database: Postgres via pgx stdlib, schema migration on boot
//  3. Sources: vendor clients wrapped in circuit breakers
//  4. Sync manager: per-source loops on the configured interval
//  5. HTTP server: health, Prometheus metrics, sync status and trigger,
//     and the copy-window analytics endpoint
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the supervisor
// tree cancels the sync loops, drains in-flight HTTP requests, and closes
// the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dubhq/dubsync/internal/api"
	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/database"
	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/source"
	"github.com/dubhq/dubsync/internal/supervisor"
	"github.com/dubhq/dubsync/internal/supervisor/services"
	"github.com/dubhq/dubsync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Strs("event_sources", cfg.EventSources()).
		Strs("property_sources", cfg.PropertySources()).
		Dur("interval", cfg.Sync.Interval).
		Msg("Starting Dubsync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	manager := sync.NewManager(db, cfg)
	registerSources(manager, cfg)

	router := api.NewRouter(manager, db, &cfg.Server)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddSyncService(services.NewSyncService(manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Dubsync stopped gracefully")
}

// registerSources wires the enabled vendor clients, each behind a circuit
// breaker, into the sync manager.
func registerSources(manager *sync.Manager, cfg *config.Config) {
	if cfg.Mixpanel.Enabled {
		client := source.NewMixpanelClient(&cfg.Mixpanel, &cfg.Sync)
		manager.RegisterEventSource(source.WithEventBreaker(client))
		logging.Info().Str("url", cfg.Mixpanel.URL).Msg("Mixpanel event source enabled")
	}
	if cfg.Zendesk.Enabled {
		client := source.NewZendeskClient(&cfg.Zendesk, &cfg.Sync)
		manager.RegisterPropertySource(source.WithPropertyBreaker(client))
		logging.Info().Str("url", cfg.Zendesk.URL).Msg("Zendesk property source enabled")
	}
	if cfg.Linear.Enabled {
		client := source.NewLinearClient(&cfg.Linear, &cfg.Sync)
		manager.RegisterPropertySource(source.WithPropertyBreaker(client))
		logging.Info().Str("url", cfg.Linear.URL).Msg("Linear property source enabled")
	}
	if len(cfg.EventSources()) == 0 && len(cfg.PropertySources()) == 0 {
		logging.Warn().Msg("No sources enabled; only manual triggers will be served")
	}
}
