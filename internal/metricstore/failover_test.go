// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metricstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ingestwatch/ingestwatch/internal/models"
)

func TestFailoverAppendAndPending(t *testing.T) {
	log := NewFailoverLog(filepath.Join(t.TempDir(), "failover.jsonl"))

	recA := testRecord(models.StatusSuccess)
	recB := testRecord(models.StatusFailed)
	if err := log.Append(recA); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(recB); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Pending() = %d entries, want 2", len(entries))
	}
	if entries[0].Record.SessionID != recA.SessionID {
		t.Errorf("first entry session = %s, want %s", entries[0].Record.SessionID, recA.SessionID)
	}
	if entries[0].ID == "" || entries[0].LoggedAt.IsZero() {
		t.Error("entry id and logged_at must be populated")
	}
	if entries[1].Record.Status != models.StatusFailed {
		t.Errorf("second entry status = %s, want failed", entries[1].Record.Status)
	}
}

func TestFailoverPendingMissingFile(t *testing.T) {
	log := NewFailoverLog(filepath.Join(t.TempDir(), "nonexistent.jsonl"))

	entries, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() on missing file error = %v", err)
	}
	if entries != nil {
		t.Errorf("Pending() = %v, want nil", entries)
	}
}

func TestFailoverSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failover.jsonl")
	log := NewFailoverLog(path)

	if err := log.Append(testRecord(models.StatusSuccess)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("{truncated garbage\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	if err := log.Append(testRecord(models.StatusPartial)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Pending() = %d entries, want 2 (corrupt line skipped)", len(entries))
	}
}

func TestCompactKeepsEntriesAppendedAfterSnapshot(t *testing.T) {
	log := NewFailoverLog(filepath.Join(t.TempDir(), "failover.jsonl"))

	for range 3 {
		if err := log.Append(testRecord(models.StatusSuccess)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	snapshot, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}

	// A writer lands between the snapshot and the compaction, as
	// happens when a persist fails while a replay pass is running.
	victim := testRecord(models.StatusFailed)
	if err := log.Append(victim); err != nil {
		t.Fatalf("Append() victim error = %v", err)
	}

	consumed := make(map[string]struct{}, len(snapshot))
	for _, entry := range snapshot {
		consumed[entry.ID] = struct{}{}
	}
	remaining, err := log.Compact(consumed, nil)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if remaining != 1 {
		t.Fatalf("Compact() remaining = %d, want 1", remaining)
	}

	after, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(after) != 1 || after[0].Record.SessionID != victim.SessionID {
		t.Fatalf("entries after compact = %+v, want only the late append", after)
	}
}

func TestCompactRecordsFailedAttempts(t *testing.T) {
	log := NewFailoverLog(filepath.Join(t.TempDir(), "failover.jsonl"))

	if err := log.Append(testRecord(models.StatusSuccess)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	entries, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}

	remaining, err := log.Compact(nil, map[string]string{
		entries[0].ID: "connection refused",
	})
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if remaining != 1 {
		t.Fatalf("Compact() remaining = %d, want 1", remaining)
	}

	after, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if after[0].Attempts != 1 || after[0].LastErr != "connection refused" {
		t.Errorf("entry = %+v, want attempts=1 with last error", after[0])
	}
}

func TestFailoverRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failover.jsonl")
	log := NewFailoverLog(path)

	for range 3 {
		if err := log.Append(testRecord(models.StatusSuccess)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}

	// Keep only the last entry, with an attempt recorded.
	kept := entries[2:]
	kept[0].Attempts = 1
	kept[0].LastErr = "connection refused"
	if err := log.Rewrite(kept); err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}

	after, err := log.Pending()
	if err != nil {
		t.Fatalf("Pending() after rewrite error = %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("Pending() = %d entries, want 1", len(after))
	}
	if after[0].Attempts != 1 || after[0].LastErr != "connection refused" {
		t.Errorf("rewritten entry = %+v, want attempts=1 with last error", after[0])
	}

	// Draining to zero removes the file entirely.
	if err := log.Rewrite(nil); err != nil {
		t.Fatalf("Rewrite(nil) error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("drained log file still exists, stat err = %v", err)
	}
}
