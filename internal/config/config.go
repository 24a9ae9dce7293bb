// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package config defines the ingestwatch configuration and loads it via
// Koanf v2 with layered sources: built-in defaults, an optional YAML
// config file, and environment variables (highest priority).
package config

import (
	"time"
)

// Config is the root configuration for ingestwatch.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Notifier NotifierConfig `koanf:"notifier"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StoreConfig configures the durable metrics store and its failover log.
type StoreConfig struct {
	// Path is the DuckDB database file. Empty means in-memory (tests).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "512MB").
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`

	// FailoverPath is the line-delimited local log written when the
	// durable store is unreachable.
	FailoverPath string `koanf:"failover_path"`

	// ReplayInterval is how often the replayer re-attempts durable
	// writes for failover entries.
	ReplayInterval time.Duration `koanf:"replay_interval"`

	// BreakerThreshold is the number of consecutive store failures
	// before the circuit opens and persists go straight to failover.
	BreakerThreshold uint32 `koanf:"breaker_threshold"`

	// BreakerCooldown is how long the circuit stays open before
	// probing the store again.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// NotifierMode selects per-session or batched delivery.
type NotifierMode string

const (
	// ModeImmediate sends one message per finalized session.
	ModeImmediate NotifierMode = "immediate"

	// ModeWindowed enqueues sessions and sends one summary per flush.
	ModeWindowed NotifierMode = "windowed"
)

// NotifierConfig configures notification routing and rate limiting.
type NotifierConfig struct {
	// Enabled controls whether notifications are delivered at all.
	// The router still aggregates when disabled so stats stay correct.
	Enabled bool `koanf:"enabled"`

	// Mode is "immediate" or "windowed". Fixed at startup.
	Mode NotifierMode `koanf:"mode"`

	// WebhookURL is the external channel endpoint.
	WebhookURL string `koanf:"webhook_url"`

	// WebhookAuth is an optional Authorization header value.
	WebhookAuth string `koanf:"webhook_auth"`

	// FlushInterval is the batch scheduler period.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// QuietStartHour/QuietEndHour define a [start,end) local-hour
	// window during which delivery is deferred to the queue. The
	// window may wrap midnight; start == end disables it.
	QuietStartHour int `koanf:"quiet_start_hour"`
	QuietEndHour   int `koanf:"quiet_end_hour"`

	// RateCapacity is the token bucket burst capacity.
	RateCapacity int `koanf:"rate_capacity"`

	// RatePerMinute is the bucket refill rate in tokens per minute.
	RatePerMinute int `koanf:"rate_per_minute"`

	// QueueMax bounds the in-memory event queue. Oldest entries are
	// evicted past the bound.
	QueueMax int `koanf:"queue_max"`

	// BackoffBase, BackoffFactor, and BackoffMax shape the throttle
	// backoff: base * factor^n, capped at max.
	BackoffBase   time.Duration `koanf:"backoff_base"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	BackoffMax    time.Duration `koanf:"backoff_max"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the zerolog-based logging layer.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:             "/data/ingestwatch.duckdb",
			MaxMemory:        "512MB",
			Threads:          0,
			FailoverPath:     "/data/ingestwatch-failover.jsonl",
			ReplayInterval:   30 * time.Second,
			BreakerThreshold: 3,
			BreakerCooldown:  15 * time.Second,
		},
		Notifier: NotifierConfig{
			Enabled:        false,
			Mode:           ModeWindowed,
			WebhookURL:     "",
			WebhookAuth:    "",
			FlushInterval:  5 * time.Minute,
			QuietStartHour: 0,
			QuietEndHour:   0,
			RateCapacity:   5,
			RatePerMinute:  5,
			QueueMax:       500,
			BackoffBase:    30 * time.Second,
			BackoffFactor:  2.0,
			BackoffMax:     15 * time.Minute,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    9417,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// QuietWindowDisabled reports whether the quiet window is a no-op.
func (n *NotifierConfig) QuietWindowDisabled() bool {
	return n.QuietStartHour == n.QuietEndHour
}
