// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metricstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ingestwatch/ingestwatch/internal/config"
	"github.com/ingestwatch/ingestwatch/internal/models"
)

func testStoreConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		Path:             "", // in-memory DuckDB
		FailoverPath:     filepath.Join(t.TempDir(), "failover.jsonl"),
		ReplayInterval:   time.Second,
		BreakerThreshold: 100, // keep the breaker quiet unless a test wants it
		BreakerCooldown:  time.Minute,
	}
}

func testRecord(status models.SessionStatus) models.MetricsRecord {
	finished := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	return models.MetricsRecord{
		SessionID:   uuid.New().String(),
		Source:      "s3://bucket/docs",
		Category:    "documents",
		Quality:     0.92,
		Status:      status,
		Produced:    40,
		Failed:      2,
		StagesTotal: 3,
		DurationMS:  1500,
		StartedAt:   finished.Add(-1500 * time.Millisecond),
		FinishedAt:  finished,
		Stages: []models.StageSnapshot{
			{Name: "extraction", DurationMS: 900, Success: true},
			{Name: "chunking", DurationMS: 600, Success: true},
		},
	}
}

func TestPersistAndQueryRollups(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, status := range []models.SessionStatus{
		models.StatusSuccess, models.StatusSuccess, models.StatusPartial, models.StatusFailed,
	} {
		if err := store.Persist(ctx, testRecord(status)); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	n, err := store.RealtimeCount(ctx)
	if err != nil {
		t.Fatalf("RealtimeCount() error = %v", err)
	}
	if n != 4 {
		t.Errorf("realtime rows = %d, want 4", n)
	}

	hourly, err := store.HourlyStats(ctx, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("HourlyStats() error = %v", err)
	}
	if len(hourly) != 1 {
		t.Fatalf("hourly buckets = %d, want 1", len(hourly))
	}
	b := hourly[0]
	if b.Sessions != 4 || b.Succeeded != 2 || b.Partial != 1 || b.Failed != 1 {
		t.Errorf("hourly bucket counts = %+v, want 4/2/1/1", b)
	}
	if b.Produced != 160 {
		t.Errorf("hourly produced = %d, want 160", b.Produced)
	}
	if b.AvgDurationMS != 1500 {
		t.Errorf("hourly avg duration = %v, want 1500", b.AvgDurationMS)
	}
	if b.MaxDurationMS != 1500 {
		t.Errorf("hourly max duration = %d, want 1500", b.MaxDurationMS)
	}

	daily, err := store.DailyStats(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DailyStats() error = %v", err)
	}
	if len(daily) != 1 || daily[0].Sessions != 4 {
		t.Errorf("daily buckets = %+v, want one bucket with 4 sessions", daily)
	}
}

func TestWriteDurableDuplicate(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := testRecord(models.StatusSuccess)

	outcome, err := store.WriteDurable(ctx, rec)
	if err != nil {
		t.Fatalf("WriteDurable() error = %v", err)
	}
	if outcome != OutcomeStored {
		t.Errorf("first write outcome = %v, want OutcomeStored", outcome)
	}

	outcome, err = store.WriteDurable(ctx, rec)
	if err != nil {
		t.Fatalf("WriteDurable() duplicate error = %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("second write outcome = %v, want OutcomeDuplicate", outcome)
	}

	n, err := store.RealtimeCount(ctx)
	if err != nil {
		t.Fatalf("RealtimeCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("realtime rows = %d, want 1", n)
	}

	// Rollups must count the session once.
	hourly, err := store.HourlyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("HourlyStats() error = %v", err)
	}
	if len(hourly) != 1 || hourly[0].Sessions != 1 {
		t.Errorf("hourly buckets = %+v, want one bucket with 1 session", hourly)
	}
}

func TestPersistFallsBackToFailover(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	// Sever the database underneath the store so durable writes fail.
	if err := store.conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}

	ctx := context.Background()
	for range 3 {
		if err := store.Persist(ctx, testRecord(models.StatusSuccess)); err != nil {
			t.Fatalf("Persist() error = %v, want contained failure", err)
		}
	}

	n, err := store.Failover().Count()
	if err != nil {
		t.Fatalf("failover Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("failover entries = %d, want 3", n)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Minute

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if err := store.conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}

	ctx := context.Background()
	for range 3 {
		_ = store.Persist(ctx, testRecord(models.StatusSuccess))
	}

	if got := store.BreakerState(); got != "open" {
		t.Errorf("BreakerState() = %q, want open", got)
	}
}

func TestRebuildRollups(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for range 3 {
		if err := store.Persist(ctx, testRecord(models.StatusSuccess)); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	// Poison the hourly table, then rebuild from realtime rows.
	if _, err := store.conn.ExecContext(ctx, `UPDATE ingestion_metrics_hourly SET sessions = 99`); err != nil {
		t.Fatalf("poison rollup: %v", err)
	}
	if err := store.RebuildRollups(ctx); err != nil {
		t.Fatalf("RebuildRollups() error = %v", err)
	}

	hourly, err := store.HourlyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("HourlyStats() error = %v", err)
	}
	if len(hourly) != 1 || hourly[0].Sessions != 3 {
		t.Errorf("rebuilt hourly = %+v, want one bucket with 3 sessions", hourly)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close is a no-op.
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Persist(ctx, testRecord(models.StatusSuccess)); err != ErrStoreClosed {
		t.Errorf("Persist() after close = %v, want ErrStoreClosed", err)
	}
	if _, err := store.HourlyStats(ctx, time.Time{}); err != ErrStoreClosed {
		t.Errorf("HourlyStats() after close = %v, want ErrStoreClosed", err)
	}
}
