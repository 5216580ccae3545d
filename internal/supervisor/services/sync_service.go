// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package services adapts Dubsync components to suture's Serve lifecycle.
package services

import (
	"context"
	"fmt"
)

// StartStopManager matches the sync manager's lifecycle surface.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService wraps the sync manager as a supervised service: Start spawns
// the per-source loops and returns, so the wrapper blocks on the context
// and tears the manager down on cancellation.
type SyncService struct {
	manager StartStopManager
}

// NewSyncService creates the sync manager service wrapper.
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{manager: manager}
}

// Serve implements suture.Service. A Start failure is returned so suture
// restarts the service under its backoff policy.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	// Stop blocks until the per-source loops have drained.
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *SyncService) String() string {
	return "sync-manager"
}
