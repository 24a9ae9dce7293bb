// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metricstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metrics"
)

// Replayer periodically drains the failover log back into the store.
// Entries that replay (or turn out to be duplicates) are compacted out
// of the log; entries that fail again stay with an incremented attempt
// count. Records are never dropped: the log holds them until the store
// takes them.
type Replayer struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReplayer creates a replayer draining the store's failover log at
// the given interval.
func NewReplayer(store *Store, interval time.Duration) *Replayer {
	return &Replayer{
		store:    store,
		interval: interval,
		logger:   logging.With().Str("component", "replayer").Logger(),
	}
}

// Start launches the replay loop. Safe to call once; subsequent calls
// are no-ops while running.
func (r *Replayer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	r.logger.Info().Dur("interval", r.interval).Msg("Failover replayer started")
}

// Stop terminates the replay loop and waits for it to exit.
func (r *Replayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()

	<-done
	r.logger.Info().Msg("Failover replayer stopped")
}

// IsRunning reports whether the replay loop is active.
func (r *Replayer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Replayer) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ReplayOnce(ctx)
		}
	}
}

// ReplayOnce runs a single replay pass: read every pending entry, try
// a durable write for each, and compact the log down to the entries
// that still failed. While the store's circuit breaker is open the
// pass is skipped; the breaker's cooldown is the backoff between
// attempts. Exposed for tests and for a manual drain at startup.
func (r *Replayer) ReplayOnce(ctx context.Context) {
	if r.store.BreakerState() == "open" {
		return
	}

	entries, err := r.store.Failover().Pending()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read failover log")
		return
	}
	if len(entries) == 0 {
		metrics.FailoverPending.Set(0)
		return
	}

	// Compaction is by consumed entry id, never by overwriting with
	// this pass's snapshot: entries appended while the pass runs must
	// survive until a later pass takes them.
	consumed := make(map[string]struct{})
	failed := make(map[string]string)
	var replayed, duplicates int

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			r.compact(consumed, failed)
			return
		default:
		}

		outcome, err := r.store.WriteDurable(ctx, entry.Record)
		if err != nil {
			failed[entry.ID] = err.Error()
			metrics.ReplayResults.WithLabelValues("failed").Inc()
			continue
		}

		consumed[entry.ID] = struct{}{}
		switch outcome {
		case OutcomeDuplicate:
			duplicates++
			metrics.ReplayResults.WithLabelValues("duplicate").Inc()
		default:
			replayed++
			metrics.ReplayResults.WithLabelValues("replayed").Inc()
		}
	}

	remaining := r.compact(consumed, failed)

	if replayed > 0 || duplicates > 0 || remaining > 0 {
		r.logger.Info().
			Int("replayed", replayed).
			Int("duplicates", duplicates).
			Int("remaining", remaining).
			Msg("Failover replay pass complete")
	}
}

func (r *Replayer) compact(consumed map[string]struct{}, failed map[string]string) int {
	remaining, err := r.store.Failover().Compact(consumed, failed)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to compact failover log")
		return remaining
	}
	metrics.FailoverPending.Set(float64(remaining))
	return remaining
}
