// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for completeness and consistency.
// Struct tags cover ranges and formats; cross-field rules that tags cannot
// express are checked explicitly.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Mixpanel.Enabled && c.Mixpanel.APISecret == "" {
		return fmt.Errorf("MIXPANEL_API_SECRET is required when the mixpanel sync is enabled")
	}
	if c.Zendesk.Enabled && c.Zendesk.Token == "" {
		return fmt.Errorf("ZENDESK_TOKEN is required when the zendesk sync is enabled")
	}
	if c.Linear.Enabled && c.Linear.Token == "" {
		return fmt.Errorf("LINEAR_TOKEN is required when the linear sync is enabled")
	}

	// The overlap must stay inside the first-sync lookback, otherwise an
	// incremental range could start before any data the first sync covered.
	if c.Sync.Overlap >= c.Sync.Lookback {
		return fmt.Errorf("sync overlap (%s) must be smaller than lookback (%s)", c.Sync.Overlap, c.Sync.Lookback)
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database max_idle_conns (%d) cannot exceed max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	return nil
}
