// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package scheduler runs the periodic notification flush loop. The
// scheduler is independent of any ingestion session: it ticks for the
// lifetime of the process, and a failed flush is logged and absorbed
// so the loop never dies.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/logging"
)

// Flusher is the flush target, satisfied by notify.Router.
type Flusher interface {
	Flush(ctx context.Context) error
}

// BatchScheduler calls Flush on a fixed interval.
type BatchScheduler struct {
	flusher  Flusher
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler flushing at the given interval.
func New(flusher Flusher, interval time.Duration) *BatchScheduler {
	return &BatchScheduler{
		flusher:  flusher,
		interval: interval,
		logger:   logging.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the flush loop. Subsequent calls while running are
// no-ops.
func (s *BatchScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("Batch scheduler started")
}

// Stop performs a final flush and terminates the loop.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info().Msg("Batch scheduler stopped")
}

// IsRunning reports whether the flush loop is active.
func (s *BatchScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *BatchScheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			// Drain anything accumulated before shutdown.
			s.flush(ctx)
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// flush invokes the target and absorbs its failure. A flush error
// must never terminate the loop.
func (s *BatchScheduler) flush(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Flush panicked")
		}
	}()

	if err := s.flusher.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Flush failed, retrying next interval")
	}
}
