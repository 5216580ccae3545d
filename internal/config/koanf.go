// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/dubsync/config.yaml",
	"/etc/dubsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Mixpanel: EventSourceConfig{
			Enabled: false,
		},
		Zendesk: PropertySourceConfig{
			Enabled: false,
		},
		Linear: PropertySourceConfig{
			Enabled: false,
		},
		Database: DatabaseConfig{
			DSN:              "",
			MaxOpenConns:     8,
			MaxIdleConns:     4,
			ConnMaxLifetime:  time.Hour,
			StatementTimeout: 30 * time.Second,
			InsertBatch:      500,
		},
		Sync: SyncConfig{
			Interval:      15 * time.Minute,
			Lookback:      60 * 24 * time.Hour, // 60 days on first sync
			Overlap:       2 * time.Hour,
			PageSize:      1000,
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
			RateLimit:     5,
			Burst:         10,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			Timeout:          30 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			TriggerRateLimit: 6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
// defaults, then an optional YAML file, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// MIXPANEL_API_SECRET -> mixpanel.api_secret, SYNC_PAGE_SIZE -> sync.page_size
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envSections maps the leading environment variable token to a config
// section. Variables outside these sections are ignored so unrelated
// environment noise never lands in the config tree.
var envSections = map[string]string{
	"MIXPANEL": "mixpanel",
	"ZENDESK":  "zendesk",
	"LINEAR":   "linear",
	"DATABASE": "database",
	"SYNC":     "sync",
	"SERVER":   "server",
	"LOG":      "logging",
}

// envTransformFunc converts environment variable names to koanf paths.
//
//	MIXPANEL_API_SECRET -> mixpanel.api_secret
//	DATABASE_MAX_OPEN_CONNS -> database.max_open_conns
//	LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return ""
	}
	prefix, known := envSections[section]
	if !known {
		return ""
	}
	return prefix + "." + strings.ToLower(rest)
}
