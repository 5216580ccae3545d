// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/source"
)

// retryWithBackoff executes fn with exponential backoff on failure.
//
// Rate-limit rejections wait the configured retry delay without consuming
// an attempt: a 429 is scheduling pressure, not a failure of the operation.
// Permanent errors abort immediately without retry. If the context is
// canceled during a wait, the function returns the context error.
func (m *Manager) retryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	delay := m.cfg.Sync.RetryDelay

	for attempt := 0; attempt < m.cfg.Sync.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, source.ErrPermanent) {
			return err
		}

		if errors.Is(err, source.ErrRateLimited) {
			logging.Warn().Err(err).Dur("delay", m.cfg.Sync.RetryDelay).Msg("Rate limited, pausing before retry")
			if waitErr := sleepCtx(ctx, m.cfg.Sync.RetryDelay); waitErr != nil {
				return waitErr
			}
			attempt--
			continue
		}

		if attempt < m.cfg.Sync.RetryAttempts-1 {
			logging.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", m.cfg.Sync.RetryAttempts).
				Dur("delay", delay).
				Msg("Retry attempt")
			if waitErr := sleepCtx(ctx, delay); waitErr != nil {
				return waitErr
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
