// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for internally inconsistent or
// unusable values. It returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Notifier.validate(); err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.FailoverPath == "" {
		return fmt.Errorf("failover_path is required")
	}
	if s.ReplayInterval < time.Second {
		return fmt.Errorf("replay_interval must be at least 1s, got %v", s.ReplayInterval)
	}
	if s.BreakerThreshold == 0 {
		return fmt.Errorf("breaker_threshold must be positive")
	}
	if s.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker_cooldown must be positive, got %v", s.BreakerCooldown)
	}
	if s.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", s.Threads)
	}
	return nil
}

func (n *NotifierConfig) validate() error {
	switch n.Mode {
	case ModeImmediate, ModeWindowed:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeImmediate, ModeWindowed, n.Mode)
	}
	if n.Enabled && n.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required when notifier is enabled")
	}
	if n.FlushInterval < time.Second {
		return fmt.Errorf("flush_interval must be at least 1s, got %v", n.FlushInterval)
	}
	if n.QuietStartHour < 0 || n.QuietStartHour > 23 {
		return fmt.Errorf("quiet_start_hour must be in [0,23], got %d", n.QuietStartHour)
	}
	if n.QuietEndHour < 0 || n.QuietEndHour > 23 {
		return fmt.Errorf("quiet_end_hour must be in [0,23], got %d", n.QuietEndHour)
	}
	if n.RateCapacity <= 0 {
		return fmt.Errorf("rate_capacity must be positive, got %d", n.RateCapacity)
	}
	if n.RatePerMinute <= 0 {
		return fmt.Errorf("rate_per_minute must be positive, got %d", n.RatePerMinute)
	}
	if n.QueueMax <= 0 {
		return fmt.Errorf("queue_max must be positive, got %d", n.QueueMax)
	}
	if n.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %v", n.BackoffBase)
	}
	if n.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1, got %v", n.BackoffFactor)
	}
	if n.BackoffMax < n.BackoffBase {
		return fmt.Errorf("backoff_max (%v) must not be below backoff_base (%v)", n.BackoffMax, n.BackoffBase)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535], got %d", s.Port)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", s.Timeout)
	}
	return nil
}
