// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metricstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/models"
)

// FailoverLog is a line-delimited JSON file holding records that could
// not be written to the store. Appends are fsynced so an accepted entry
// survives a crash. All operations are serialized by one mutex; the
// write rate here is the failure rate, not the ingest rate.
type FailoverLog struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFailoverLog returns a log backed by the given file path. The file
// is created lazily on first append.
func NewFailoverLog(path string) *FailoverLog {
	return &FailoverLog{
		path:   path,
		logger: logging.With().Str("component", "failover").Logger(),
	}
}

// Path returns the backing file path.
func (f *FailoverLog) Path() string {
	return f.path
}

// Append writes one failover entry and syncs it to disk.
func (f *FailoverLog) Append(rec models.MetricsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry := models.FailoverEntry{
		ID:       uuid.New().String(),
		Record:   rec,
		LoggedAt: time.Now().UTC(),
	}
	return f.appendLocked(entry)
}

func (f *FailoverLog) appendLocked(entry models.FailoverEntry) error {
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create failover directory: %w", err)
		}
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open failover log: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal failover entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("append failover entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync failover log: %w", err)
	}
	return nil
}

// Pending reads all entries currently in the log. Lines that fail to
// parse are skipped with a warning rather than blocking replay of the
// rest of the file.
func (f *FailoverLog) Pending() ([]models.FailoverEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *FailoverLog) pendingLocked() ([]models.FailoverEntry, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open failover log: %w", err)
	}
	defer file.Close()

	var entries []models.FailoverEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.FailoverEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			f.logger.Warn().Err(err).
				Int("line", lineNo).
				Msg("Skipping corrupt failover entry")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read failover log: %w", err)
	}
	return entries, nil
}

// Compact removes the consumed entries from the log and rewrites it
// atomically. The current file is re-read under the mutex, so entries
// appended after the caller took its snapshot survive the compaction.
// failed maps entry ids to the error from this pass; matching entries
// get their attempt count bumped and the error recorded. Returns the
// number of entries remaining.
func (f *FailoverLog) Compact(consumed map[string]struct{}, failed map[string]string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.pendingLocked()
	if err != nil {
		return 0, err
	}

	kept := make([]models.FailoverEntry, 0, len(entries))
	for _, entry := range entries {
		if _, ok := consumed[entry.ID]; ok {
			continue
		}
		if msg, ok := failed[entry.ID]; ok {
			entry.Attempts++
			entry.LastErr = msg
		}
		kept = append(kept, entry)
	}

	if err := f.rewriteLocked(kept); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// Rewrite atomically replaces the log contents with the given entries.
func (f *FailoverLog) Rewrite(entries []models.FailoverEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rewriteLocked(entries)
}

func (f *FailoverLog) rewriteLocked(entries []models.FailoverEntry) error {
	if len(entries) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove drained failover log: %w", err)
		}
		return nil
	}

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("open failover temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			return fmt.Errorf("marshal failover entry: %w", err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			file.Close()
			return fmt.Errorf("write failover temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush failover temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync failover temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close failover temp file: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace failover log: %w", err)
	}
	return nil
}

// Count returns the number of pending entries.
func (f *FailoverLog) Count() (int, error) {
	entries, err := f.Pending()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
