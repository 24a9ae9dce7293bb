// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingFlusher struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (f *countingFlusher) Flush(_ context.Context) error {
	f.calls.Add(1)
	if f.panic {
		panic("flush exploded")
	}
	return f.err
}

func TestSchedulerFlushesOnInterval(t *testing.T) {
	flusher := &countingFlusher{}
	s := New(flusher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	// At least a few ticks plus the shutdown flush.
	if got := flusher.calls.Load(); got < 3 {
		t.Errorf("flush calls = %d, want at least 3", got)
	}
}

func TestSchedulerSurvivesFlushErrors(t *testing.T) {
	flusher := &countingFlusher{err: errors.New("channel down")}
	s := New(flusher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(35 * time.Millisecond)

	if !s.IsRunning() {
		t.Error("scheduler stopped after flush errors")
	}
	s.Stop()
	if got := flusher.calls.Load(); got < 2 {
		t.Errorf("flush calls = %d, want repeated attempts despite errors", got)
	}
}

func TestSchedulerSurvivesFlushPanic(t *testing.T) {
	flusher := &countingFlusher{panic: true}
	s := New(flusher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(35 * time.Millisecond)

	if !s.IsRunning() {
		t.Error("scheduler stopped after flush panic")
	}
	s.Stop()
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s := New(&countingFlusher{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestSchedulerStopFlushesPendingWork(t *testing.T) {
	flusher := &countingFlusher{}
	s := New(flusher, time.Hour) // interval never fires

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()

	if got := flusher.calls.Load(); got != 1 {
		t.Errorf("flush calls = %d, want 1 shutdown flush", got)
	}
}
