// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package metrics exposes Prometheus instrumentation for the pipeline:
// session lifecycle, stage timings, persistence outcomes (including
// failover), notification delivery, and rate limiter behavior.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Metrics
	SessionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestwatch_sessions_finalized_total",
			Help: "Total number of finalized ingestion sessions",
		},
		[]string{"status"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestwatch_session_duration_seconds",
			Help:    "End-to-end duration of finalized ingestion sessions",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestwatch_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DoubleFinishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestwatch_double_finish_total",
			Help: "Total number of rejected second Finish calls",
		},
	)

	// Store Metrics
	PersistAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestwatch_persist_attempts_total",
			Help: "Total persist attempts by outcome (stored, failover, duplicate)",
		},
		[]string{"outcome"},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestwatch_persist_duration_seconds",
			Help:    "Duration of durable store writes",
			Buckets: prometheus.DefBuckets,
		},
	)

	FailoverPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestwatch_failover_pending_entries",
			Help: "Current number of unreplayed failover log entries",
		},
	)

	ReplayResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestwatch_failover_replay_total",
			Help: "Total failover replay attempts by result (replayed, duplicate, failed)",
		},
		[]string{"result"},
	)

	StoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestwatch_store_breaker_open",
			Help: "1 when the durable store circuit breaker is open, 0 otherwise",
		},
	)

	// Notification Metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestwatch_notifications_sent_total",
			Help: "Total notification send attempts by outcome (ok, throttled, error)",
		},
		[]string{"outcome", "kind"},
	)

	NotifyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestwatch_notify_queue_depth",
			Help: "Current number of events in the notification queue",
		},
	)

	NotifyQueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestwatch_notify_queue_drops_total",
			Help: "Total events evicted from the notification queue (oldest-first)",
		},
	)

	NotifyRetryDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestwatch_notify_retry_drops_total",
			Help: "Total events dropped after exhausting their single flush retry",
		},
	)

	// Rate Limiter Metrics
	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestwatch_rate_limit_wait_seconds",
			Help:    "Time callers spent waiting for a send token",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	BackoffActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestwatch_backoff_active",
			Help: "1 while throttle backoff is suspending sends, 0 otherwise",
		},
	)

	BackoffEntered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestwatch_backoff_entered_total",
			Help: "Total number of times throttle backoff was entered",
		},
	)
)

// RecordSessionFinalized records a finalized session outcome.
func RecordSessionFinalized(status string, duration time.Duration) {
	SessionsFinalized.WithLabelValues(status).Inc()
	SessionDuration.Observe(duration.Seconds())
}

// RecordStage records one stage duration observation.
func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPersist records one persist attempt outcome.
func RecordPersist(outcome string, duration time.Duration) {
	PersistAttempts.WithLabelValues(outcome).Inc()
	PersistDuration.Observe(duration.Seconds())
}

// RecordSend records one notification send outcome.
// kind is "immediate" or "summary".
func RecordSend(outcome, kind string) {
	NotificationsSent.WithLabelValues(outcome, kind).Inc()
}
