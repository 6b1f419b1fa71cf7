// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package config defines the Tandem configuration and its layered loading.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): built-in defaults, then a YAML config file, then
// TANDEM_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the matching and partnership core.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Database    DatabaseConfig    `koanf:"database"`
	Matching    MatchingConfig    `koanf:"matching"`
	Partnership PartnershipConfig `koanf:"partnership"`
	Queue       QueueConfig       `koanf:"queue"`
	Streak      StreakConfig      `koanf:"streak"`
	Compat      CompatConfig      `koanf:"compat"`
	Health      HealthConfig      `koanf:"health"`
	Events      EventsConfig      `koanf:"events"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig controls the embedded DuckDB store.
type DatabaseConfig struct {
	// Path is the database file path; ":memory:" opens an in-memory store.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// MatchingConfig controls the matching queue and pass.
type MatchingConfig struct {
	// Threshold is the minimum acceptable compatibility score for
	// auto-proposals.
	Threshold float64 `koanf:"threshold"`
	// Interval is the matching pass cadence.
	Interval time.Duration `koanf:"interval"`
	// BucketHours bounds pair comparisons to users within this many hours
	// of timezone offset.
	BucketHours int `koanf:"bucket_hours"`
	// SuggestScanLimit bounds the scan of availability-flagged non-queued
	// users during suggestion queries.
	SuggestScanLimit int `koanf:"suggest_scan_limit"`
}

// PartnershipConfig controls partnership lifecycle rules.
type PartnershipConfig struct {
	// MaxConcurrent is the default per-user cap on ACTIVE|PAUSED
	// partnerships, used when preferences carry no cap.
	MaxConcurrent int `koanf:"max_concurrent"`
	// RequestTTL is how long a PENDING request stays open.
	RequestTTL time.Duration `koanf:"request_ttl"`
	// ExpireInterval is the cadence of the expire-pending job.
	ExpireInterval time.Duration `koanf:"expire_interval"`
}

// QueueConfig controls queue housekeeping.
type QueueConfig struct {
	// IdleEvictAfter evicts queue entries not matched within this window.
	IdleEvictAfter time.Duration `koanf:"idle_evict_after"`
	// EvictInterval is the cadence of the queue-eviction job.
	EvictInterval time.Duration `koanf:"evict_interval"`
}

// StreakConfig controls streak and accountability computation.
type StreakConfig struct {
	// AccountabilityWindowDays is the rolling window for the
	// accountability score.
	AccountabilityWindowDays int `koanf:"accountability_window_days"`
}

// CompatConfig controls the compatibility engine.
type CompatConfig struct {
	// CacheTTL bounds how long a computed compatibility score may be
	// served from cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// HealthConfig controls health scoring.
type HealthConfig struct {
	// RecomputeInterval is the cadence of the health-recompute job.
	RecomputeInterval time.Duration `koanf:"recompute_interval"`
	// Staleness is the maximum health age before recompute.
	Staleness time.Duration `koanf:"staleness"`
	// RiskThreshold is the health value below which HealthAtRisk fires.
	RiskThreshold float64 `koanf:"risk_threshold"`
}

// EventsConfig controls the outbound event sink.
type EventsConfig struct {
	// NATSEnabled selects the NATS JetStream transport instead of the
	// in-process GoChannel pub/sub.
	NATSEnabled bool   `koanf:"nats_enabled"`
	NATSURL     string `koanf:"nats_url"`
	// Topic is the subject all partnership events are published to.
	Topic string `koanf:"topic"`
	// DrainInterval is the cadence of the outbox-drain job.
	DrainInterval time.Duration `koanf:"drain_interval"`
	// PublishRate caps event publishes per second; 0 means unlimited.
	PublishRate float64 `koanf:"publish_rate"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path:      "/data/tandem.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Matching: MatchingConfig{
			Threshold:        0.6,
			Interval:         60 * time.Second,
			BucketHours:      6,
			SuggestScanLimit: 200,
		},
		Partnership: PartnershipConfig{
			MaxConcurrent:  3,
			RequestTTL:     72 * time.Hour,
			ExpireInterval: time.Hour,
		},
		Queue: QueueConfig{
			IdleEvictAfter: 7 * 24 * time.Hour,
			EvictInterval:  time.Hour,
		},
		Streak: StreakConfig{
			AccountabilityWindowDays: 28,
		},
		Compat: CompatConfig{
			CacheTTL: 5 * time.Minute,
		},
		Health: HealthConfig{
			RecomputeInterval: 15 * time.Minute,
			Staleness:         time.Hour,
			RiskThreshold:     40,
		},
		Events: EventsConfig{
			NATSEnabled:   false,
			NATSURL:       "nats://127.0.0.1:4222",
			Topic:         "partnership.events",
			DrainInterval: 30 * time.Second,
			PublishRate:   0,
		},
	}
}

// Validate checks configuration invariants. A failure here is a boot
// failure, not a runtime warning.
func (c *Config) Validate() error {
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be in [0,1], got %v", c.Matching.Threshold)
	}
	if c.Matching.Interval <= 0 {
		return fmt.Errorf("matching.interval must be positive, got %v", c.Matching.Interval)
	}
	if c.Matching.BucketHours < 0 || c.Matching.BucketHours > 12 {
		return fmt.Errorf("matching.bucket_hours must be in [0,12], got %d", c.Matching.BucketHours)
	}
	if c.Partnership.MaxConcurrent < 1 || c.Partnership.MaxConcurrent > 5 {
		return fmt.Errorf("partnership.max_concurrent must be in [1,5], got %d", c.Partnership.MaxConcurrent)
	}
	if c.Partnership.RequestTTL <= 0 {
		return fmt.Errorf("partnership.request_ttl must be positive, got %v", c.Partnership.RequestTTL)
	}
	if c.Queue.IdleEvictAfter <= 0 {
		return fmt.Errorf("queue.idle_evict_after must be positive, got %v", c.Queue.IdleEvictAfter)
	}
	if c.Streak.AccountabilityWindowDays < 7 {
		return fmt.Errorf("streak.accountability_window_days must be >= 7, got %d", c.Streak.AccountabilityWindowDays)
	}
	if c.Compat.CacheTTL < 0 || c.Compat.CacheTTL > 5*time.Minute {
		return fmt.Errorf("compat.cache_ttl must be in (0, 5m], got %v", c.Compat.CacheTTL)
	}
	if c.Health.RiskThreshold < 0 || c.Health.RiskThreshold > 100 {
		return fmt.Errorf("health.risk_threshold must be in [0,100], got %v", c.Health.RiskThreshold)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
