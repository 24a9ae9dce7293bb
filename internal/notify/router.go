// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/config"
	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metrics"
	"github.com/ingestwatch/ingestwatch/internal/models"
)

// queuedEvent is one session record awaiting batch delivery. retried
// marks events that already survived one failed send; a second failure
// drops them.
type queuedEvent struct {
	rec     models.MetricsRecord
	retried bool
}

// Router fans finalized session records out to the notification
// channel. The mode is fixed at construction: immediate sends one
// message per session, windowed accumulates records into a bounded
// queue drained by periodic Flush calls. In either mode the quiet
// window defers delivery by routing records into the queue.
//
// The queue is shared by arbitrarily many concurrent sessions and the
// single flush loop; overflow evicts oldest-first and is reported in
// the next summary rather than raised.
type Router struct {
	cfg     config.NotifierConfig
	channel Channel
	limiter *RateLimiter
	logger  zerolog.Logger

	// now is replaceable in tests to pin the quiet window.
	now func() time.Time

	mu      sync.Mutex
	queue   []queuedEvent
	dropped int
}

// NewRouter creates a router in the configured mode. A disabled config
// yields a router whose methods are no-ops.
func NewRouter(cfg config.NotifierConfig, channel Channel) *Router {
	return &Router{
		cfg:     cfg,
		channel: channel,
		limiter: NewRateLimiter(cfg.RateCapacity, cfg.RatePerMinute,
			cfg.BackoffBase, cfg.BackoffFactor, cfg.BackoffMax),
		logger: logging.With().Str("component", "notify").Logger(),
		now:    time.Now,
	}
}

// Limiter exposes the shared rate limiter, used by the status endpoint.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

// SessionFinished routes one finalized session record. Never returns
// an error and never blocks ingestion beyond a rate-limit wait in
// immediate mode.
func (r *Router) SessionFinished(ctx context.Context, rec models.MetricsRecord) {
	if !r.cfg.Enabled {
		return
	}

	if r.cfg.Mode == config.ModeWindowed || r.inQuietWindow(r.now()) {
		r.enqueue(queuedEvent{rec: rec})
		return
	}

	r.sendImmediate(ctx, rec)
}

func (r *Router) sendImmediate(ctx context.Context, rec models.MetricsRecord) {
	if err := r.limiter.Acquire(ctx); err != nil {
		// Cancelled while waiting: defer to the next flush.
		r.enqueue(queuedEvent{rec: rec})
		return
	}

	result, err := r.channel.Send(ctx, immediateMessage(rec))
	if err != nil {
		metrics.RecordSend("error", "immediate")
		r.dropEvent(queuedEvent{rec: rec, retried: true}, err.Error())
		return
	}

	metrics.RecordSend(result.Status.String(), "immediate")
	switch result.Status {
	case SendOK:
		r.limiter.Reset()

	case SendThrottled:
		r.limiter.Throttle(result.RetryAfter)
		r.logger.Warn().
			Str("session_id", rec.SessionID).
			Msg("Notification throttled, deferring to next flush")
		r.enqueue(queuedEvent{rec: rec})

	case SendError:
		r.logger.Warn().
			Str("session_id", rec.SessionID).
			Int("response_code", result.ResponseCode).
			Str("error", result.ErrorMessage).
			Msg("Immediate notification failed, will retry on next flush")
		r.enqueue(queuedEvent{rec: rec, retried: true})
	}
}

// Flush atomically drains the queue and sends one summary message.
// An empty queue produces no message. Inside the quiet window the
// flush is skipped entirely; queued events wait for the first flush
// after the window ends. Errors are returned for the caller to log
// and never propagate further.
func (r *Router) Flush(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	if r.inQuietWindow(r.now()) {
		return nil
	}

	r.mu.Lock()
	drained := r.queue
	droppedNow := r.dropped
	r.queue = nil
	r.dropped = 0
	r.mu.Unlock()
	metrics.NotifyQueueDepth.Set(0)

	if len(drained) == 0 {
		// Drop counts with no events to report ride along with the
		// next non-empty summary.
		if droppedNow > 0 {
			r.mu.Lock()
			r.dropped += droppedNow
			r.mu.Unlock()
		}
		return nil
	}

	records := make([]models.MetricsRecord, len(drained))
	for i, ev := range drained {
		records[i] = ev.rec
	}
	summary := BuildSummary(records, droppedNow)

	if err := r.limiter.Acquire(ctx); err != nil {
		r.requeue(drained, droppedNow)
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	result, err := r.channel.Send(ctx, summary.Message())
	if err != nil {
		metrics.RecordSend("error", "summary")
		r.retryOrDrop(drained, droppedNow, err.Error())
		return fmt.Errorf("summary send: %w", err)
	}

	metrics.RecordSend(result.Status.String(), "summary")
	switch result.Status {
	case SendOK:
		r.limiter.Reset()
		r.logger.Info().
			Int("sessions", summary.Sessions).
			Int("dropped", summary.Dropped).
			Msg("Summary notification sent")
		return nil

	case SendThrottled:
		r.limiter.Throttle(result.RetryAfter)
		r.requeue(drained, droppedNow)
		return fmt.Errorf("summary send throttled (retry-after %v)", result.RetryAfter)

	default:
		r.retryOrDrop(drained, droppedNow, result.ErrorMessage)
		return fmt.Errorf("summary send failed: %s", result.ErrorMessage)
	}
}

// enqueue appends one event, evicting oldest entries past the bound.
func (r *Router) enqueue(ev queuedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue = append(r.queue, ev)
	if over := len(r.queue) - r.cfg.QueueMax; over > 0 {
		r.queue = append([]queuedEvent(nil), r.queue[over:]...)
		r.dropped += over
		metrics.NotifyQueueDrops.Add(float64(over))
	}
	metrics.NotifyQueueDepth.Set(float64(len(r.queue)))
}

// requeue puts drained events back at the head of the queue after a
// throttled flush, ahead of anything enqueued during the attempt.
// The bound still applies, evicting oldest-first.
func (r *Router) requeue(events []queuedEvent, droppedNow int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue = append(events, r.queue...)
	r.dropped += droppedNow
	if over := len(r.queue) - r.cfg.QueueMax; over > 0 {
		r.queue = append([]queuedEvent(nil), r.queue[over:]...)
		r.dropped += over
		metrics.NotifyQueueDrops.Add(float64(over))
	}
	metrics.NotifyQueueDepth.Set(float64(len(r.queue)))
}

// retryOrDrop handles a failed summary send: events get one retry at
// the next flush, then are dropped with a counter increment.
func (r *Router) retryOrDrop(events []queuedEvent, droppedNow int, reason string) {
	var retry []queuedEvent
	droppedHere := 0
	for _, ev := range events {
		if ev.retried {
			droppedHere++
			metrics.NotifyRetryDrops.Inc()
			continue
		}
		ev.retried = true
		retry = append(retry, ev)
	}

	if droppedHere > 0 {
		r.logger.Warn().
			Int("dropped", droppedHere).
			Str("reason", reason).
			Msg("Dropping events after exhausted retry")
	}

	r.requeue(retry, droppedNow+droppedHere)
}

func (r *Router) dropEvent(ev queuedEvent, reason string) {
	metrics.NotifyRetryDrops.Inc()
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
	r.logger.Warn().
		Str("session_id", ev.rec.SessionID).
		Str("reason", reason).
		Msg("Dropping notification")
}

// inQuietWindow reports whether t falls inside the configured quiet
// hours. The window is [start, end) at hour granularity and may wrap
// midnight; equal bounds disable it.
func (r *Router) inQuietWindow(t time.Time) bool {
	start, end := r.cfg.QuietStartHour, r.cfg.QuietEndHour
	if start == end {
		return false
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// QueueDepth returns the number of events awaiting flush.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// DroppedSinceFlush returns the drop count pending report.
func (r *Router) DroppedSinceFlush() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
