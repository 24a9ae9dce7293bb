// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metricstore

import (
	"context"
	"testing"
	"time"

	"github.com/ingestwatch/ingestwatch/internal/models"
)

func TestReplayOnceDrainsIntoStore(t *testing.T) {
	cfg := testStoreConfig(t)

	// First store loses its database; persists land in the failover log.
	downed, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := downed.conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}

	ctx := context.Background()
	records := []models.MetricsRecord{
		testRecord(models.StatusSuccess),
		testRecord(models.StatusPartial),
		testRecord(models.StatusFailed),
	}
	for _, rec := range records {
		if err := downed.Persist(ctx, rec); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	// A fresh store sharing the failover path replays the backlog.
	recovered, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() recovered store error = %v", err)
	}
	defer recovered.Close()

	replayer := NewReplayer(recovered, time.Second)
	replayer.ReplayOnce(ctx)

	n, err := recovered.RealtimeCount(ctx)
	if err != nil {
		t.Fatalf("RealtimeCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("realtime rows after replay = %d, want 3", n)
	}

	pending, err := recovered.Failover().Count()
	if err != nil {
		t.Fatalf("failover Count() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("failover entries after replay = %d, want 0", pending)
	}
}

func TestReplayOnceSkipsDuplicates(t *testing.T) {
	cfg := testStoreConfig(t)
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := testRecord(models.StatusSuccess)

	// Record already stored, plus a stale failover entry for it.
	if _, err := store.WriteDurable(ctx, rec); err != nil {
		t.Fatalf("WriteDurable() error = %v", err)
	}
	if err := store.Failover().Append(rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	NewReplayer(store, time.Second).ReplayOnce(ctx)

	n, err := store.RealtimeCount(ctx)
	if err != nil {
		t.Fatalf("RealtimeCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("realtime rows = %d, want 1 (duplicate not re-inserted)", n)
	}
	pending, err := store.Failover().Count()
	if err != nil {
		t.Fatalf("failover Count() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("failover entries = %d, want 0 (duplicate compacted out)", pending)
	}

	// Rollup must reflect the original write only.
	hourly, err := store.HourlyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("HourlyStats() error = %v", err)
	}
	if len(hourly) != 1 || hourly[0].Sessions != 1 {
		t.Errorf("hourly buckets = %+v, want one bucket with 1 session", hourly)
	}
}

func TestReplayKeepsFailedEntries(t *testing.T) {
	cfg := testStoreConfig(t)
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx := context.Background()
	if err := store.conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
	if err := store.Persist(ctx, testRecord(models.StatusSuccess)); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// Store still down: the replay pass fails and keeps the entry with
	// an incremented attempt count.
	NewReplayer(store, time.Second).ReplayOnce(ctx)

	entries, err := store.Failover().Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failover entries = %d, want 1", len(entries))
	}
	if entries[0].Attempts != 1 {
		t.Errorf("entry attempts = %d, want 1", entries[0].Attempts)
	}
	if entries[0].LastErr == "" {
		t.Error("entry last error must be recorded")
	}
}

func TestReplayKeepsRecordAppendedMidPass(t *testing.T) {
	cfg := testStoreConfig(t)

	downed, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := downed.conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}

	ctx := context.Background()
	const seeded = 200
	for range seeded {
		if err := downed.Persist(ctx, testRecord(models.StatusSuccess)); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	recovered, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() recovered store error = %v", err)
	}
	defer recovered.Close()

	// A persist fails while the pass is replaying the backlog; its
	// record lands in the log mid-pass and must survive compaction.
	victim := testRecord(models.StatusFailed)
	replayer := NewReplayer(recovered, time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		replayer.ReplayOnce(ctx)
	}()
	time.Sleep(2 * time.Millisecond)
	if err := recovered.Failover().Append(victim); err != nil {
		t.Fatalf("Append() victim error = %v", err)
	}
	<-done

	// Wherever the interleaving landed, the victim is in the store or
	// still in the log; a second pass drains whatever remains.
	replayer.ReplayOnce(ctx)

	n, err := recovered.RealtimeCount(ctx)
	if err != nil {
		t.Fatalf("RealtimeCount() error = %v", err)
	}
	if n != seeded+1 {
		t.Errorf("realtime rows = %d, want %d (victim must not be lost)", n, seeded+1)
	}
	pending, err := recovered.Failover().Count()
	if err != nil {
		t.Fatalf("failover Count() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("failover entries = %d, want 0", pending)
	}
}

func TestReplayerStartStop(t *testing.T) {
	store, err := Open(testStoreConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	r := NewReplayer(store, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	if !r.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	r.Start(ctx) // second Start is a no-op

	time.Sleep(30 * time.Millisecond)
	r.Stop()
	if r.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	r.Stop() // second Stop is a no-op
}
