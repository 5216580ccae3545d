// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package sync orchestrates incremental synchronization from vendor APIs
// into the local analytics store.
//
// Each source runs as an independent periodic loop. A run moves through a
// strict state machine: fetch the watermark, pick first-sync or incremental
// range, ingest raw events, aggregate summaries and window boundaries, then
// commit the watermark. The watermark only advances after every prior phase
// has fully succeeded, so a failed run is retried over the same range and
// idempotent ingestion absorbs the re-fetch.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dubhq/dubsync/internal/config"
	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/models"
	"github.com/dubhq/dubsync/internal/source"
)

// Manager owns the per-source sync loops and their run state.
type Manager struct {
	store           Store
	cfg             *config.Config
	eventSources    map[string]source.EventSource
	propertySources map[string]source.PropertySource

	mu       sync.RWMutex
	running  bool
	inflight map[string]bool
	lastRuns map[string]models.SyncRun

	stopChan chan struct{}
	wg       sync.WaitGroup

	// now is the clock; tests substitute a fixed instant.
	now func() time.Time
}

// NewManager creates a sync manager. Sources are registered separately so
// the caller controls decoration (circuit breakers) and enablement.
func NewManager(store Store, cfg *config.Config) *Manager {
	m := &Manager{
		store:           store,
		cfg:             cfg,
		eventSources:    make(map[string]source.EventSource),
		propertySources: make(map[string]source.PropertySource),
		inflight:        make(map[string]bool),
		lastRuns:        make(map[string]models.SyncRun),
		stopChan:        make(chan struct{}),
		now:             time.Now,
	}

	logging.Info().
		Dur("interval", cfg.Sync.Interval).
		Dur("lookback", cfg.Sync.Lookback).
		Dur("overlap", cfg.Sync.Overlap).
		Int("page_size", cfg.Sync.PageSize).
		Msg("Sync manager config loaded")

	return m
}

// RegisterEventSource adds a raw-event source to the sync schedule.
func (m *Manager) RegisterEventSource(src source.EventSource) {
	m.eventSources[src.Name()] = src
}

// RegisterPropertySource adds a property feed to the sync schedule.
func (m *Manager) RegisterPropertySource(src source.PropertySource) {
	m.propertySources[src.Name()] = src
}

// Start begins the periodic sync loops, one per registered source. Each
// loop performs an immediate run, then repeats on the configured interval.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	// Fresh channel so a supervised restart after Stop works.
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	logging.Info().
		Int("event_sources", len(m.eventSources)).
		Int("property_sources", len(m.propertySources)).
		Msg("Starting sync manager")

	for name := range m.eventSources {
		m.wg.Add(1)
		go m.eventSyncLoop(ctx, name)
	}
	for name := range m.propertySources {
		m.wg.Add(1)
		go m.propertySyncLoop(ctx, name)
	}

	return nil
}

// Stop shuts down the sync loops and waits for in-flight runs to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

// eventSyncLoop drives periodic syncs for one event source.
func (m *Manager) eventSyncLoop(ctx context.Context, name string) {
	defer m.wg.Done()

	if _, err := m.TriggerSync(ctx, name); err != nil {
		logging.Warn().Err(err).Str("source", name).Msg("Initial sync failed (will retry on interval)")
	}

	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.TriggerSync(ctx, name); err != nil {
				logging.Warn().Err(err).Str("source", name).Msg("Scheduled sync failed")
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// propertySyncLoop drives periodic property feed syncs for one source.
func (m *Manager) propertySyncLoop(ctx context.Context, name string) {
	defer m.wg.Done()

	if err := m.syncProperties(ctx, name); err != nil {
		logging.Warn().Err(err).Str("source", name).Msg("Initial property sync failed (will retry on interval)")
	}

	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.syncProperties(ctx, name); err != nil {
				logging.Warn().Err(err).Str("source", name).Msg("Scheduled property sync failed")
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// TriggerSync executes one sync run for the named event source. Concurrent
// runs for the same source are rejected, not queued.
func (m *Manager) TriggerSync(ctx context.Context, name string) (*models.SyncRun, error) {
	src, ok := m.eventSources[name]
	if !ok {
		return nil, fmt.Errorf("unknown event source: %s", name)
	}

	m.mu.Lock()
	if m.inflight[name] {
		m.mu.Unlock()
		return nil, fmt.Errorf("sync already in progress for %s", name)
	}
	m.inflight[name] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, name)
		m.mu.Unlock()
	}()

	run := m.runEventSync(ctx, src)

	m.mu.Lock()
	m.lastRuns[name] = *run
	m.mu.Unlock()

	if run.State == models.StateFailed {
		return run, fmt.Errorf("sync run %s failed: %s", run.ID, run.Error)
	}
	return run, nil
}

// LastRuns returns a snapshot of the most recent run per source.
func (m *Manager) LastRuns() map[string]models.SyncRun {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make(map[string]models.SyncRun, len(m.lastRuns))
	for name, run := range m.lastRuns {
		runs[name] = run
	}
	return runs
}

// Sources returns the names of all registered sources.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.eventSources)+len(m.propertySources))
	for name := range m.eventSources {
		names = append(names, name)
	}
	for name := range m.propertySources {
		names = append(names, name)
	}
	return names
}
