// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package recorder implements the per-job stage recorder: the write-side
// entry point of the observability pipeline.
//
// One Session handle is issued per ingestion job. The job reports stage
// completions and finally calls Finish, which freezes the session,
// derives its overall status, and fans the snapshot out to the metrics
// store and the notification router. Sink failures are contained here:
// nothing that happens downstream can mark an ingestion job as failed.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metrics"
	"github.com/ingestwatch/ingestwatch/internal/models"
)

var (
	// ErrDoubleFinish is returned when Finish is called a second time
	// on an already-finalized session. The session is left untouched.
	ErrDoubleFinish = errors.New("session already finalized")

	// ErrSessionFinalized is returned when a stage is reported after
	// the session was finalized.
	ErrSessionFinalized = errors.New("cannot record stage on finalized session")
)

// MetricsSink receives finalized session records for durable storage.
// Implementations must degrade internally (failover, breaker) rather
// than block; a returned error is logged here and goes no further.
type MetricsSink interface {
	Persist(ctx context.Context, rec models.MetricsRecord) error
}

// NotificationSink receives finalized session records for delivery.
type NotificationSink interface {
	SessionFinished(ctx context.Context, rec models.MetricsRecord)
}

// Recorder issues session handles and owns the downstream sinks.
// Construct one at startup and pass it to every ingestion call site.
type Recorder struct {
	store    MetricsSink
	notifier NotificationSink
	logger   zerolog.Logger
}

// New creates a Recorder fanning out to the given sinks. Either sink
// may be nil, in which case that leg is skipped.
func New(store MetricsSink, notifier NotificationSink) *Recorder {
	return &Recorder{
		store:    store,
		notifier: notifier,
		logger:   logging.With().Str("component", "recorder").Logger(),
	}
}

// Start opens a new ingestion session for the given source.
func (r *Recorder) Start(source, category string) *Session {
	s := &Session{
		recorder: r,
		data: models.IngestionSession{
			ID:        uuid.New().String(),
			Source:    source,
			Category:  category,
			Status:    models.StatusRunning,
			StartedAt: time.Now().UTC(),
		},
	}

	r.logger.Debug().
		Str("session_id", s.data.ID).
		Str("source", source).
		Str("category", category).
		Msg("Session started")

	return s
}

// Session is the handle for one ingestion job. All methods are safe for
// concurrent use, though a job normally reports stages sequentially.
type Session struct {
	recorder *Recorder

	mu       sync.Mutex
	data     models.IngestionSession
	finished bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ID
}

// SetQuality attaches a quality indicator in [0,1] to the session.
func (s *Session) SetQuality(q float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.data.Quality = q
}

// SetExtra attaches one free-form metadata entry to the session.
// Entries beyond models.MaxMetaKeys are dropped.
func (s *Session) SetExtra(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if s.data.Extra == nil {
		s.data.Extra = make(map[string]string)
	}
	if len(s.data.Extra) >= models.MaxMetaKeys {
		return
	}
	s.data.Extra[key] = value
}

// RecordStage appends one stage report to the session. Stages are
// expected in pipeline order but ordering is not enforced; the recorder
// only timestamps what it is told. Negative durations are clamped to
// zero. Unknown stage names are accepted.
func (s *Session) RecordStage(name models.Stage, duration time.Duration, success bool, meta map[string]string) error {
	if duration < 0 {
		duration = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrSessionFinalized
	}

	rec := models.StageRecord{
		Name:       name,
		Duration:   duration,
		Success:    success,
		RecordedAt: time.Now().UTC(),
	}
	if len(meta) > 0 {
		rec.Meta = make(map[string]string, len(meta))
		for k, v := range meta {
			if len(rec.Meta) >= models.MaxMetaKeys {
				break
			}
			rec.Meta[k] = v
		}
	}

	s.data.Stages = append(s.data.Stages, rec)
	metrics.RecordStage(string(name), duration)

	if !models.IsCanonicalStage(name) {
		s.recorder.logger.Debug().
			Str("session_id", s.data.ID).
			Str("stage", string(name)).
			Msg("Non-canonical stage recorded")
	}

	return nil
}

// Finish finalizes the session: derives the overall status, computes the
// total duration from the first stage start to now, and hands the frozen
// snapshot to the metrics store and the notification router. A second
// call returns ErrDoubleFinish and has no side effect.
//
// Downstream failures are logged and contained; Finish never reports
// them to the ingestion job.
func (s *Session) Finish(ctx context.Context, produced, failed int) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		metrics.DoubleFinishes.Inc()
		s.recorder.logger.Warn().
			Str("session_id", s.data.ID).
			Msg("Finish called twice on session")
		return ErrDoubleFinish
	}

	now := time.Now().UTC()
	s.finished = true
	s.data.Produced = produced
	s.data.Failed = failed
	s.data.FinishedAt = now
	s.data.TotalDuration = now.Sub(s.firstStageStartLocked())
	s.data.Status = deriveStatus(&s.data)

	rec := models.NewMetricsRecord(&s.data)
	s.mu.Unlock()

	metrics.RecordSessionFinalized(string(rec.Status), time.Duration(rec.DurationMS)*time.Millisecond)

	s.recorder.logger.Info().
		Str("session_id", rec.SessionID).
		Str("source", rec.Source).
		Str("status", string(rec.Status)).
		Int("produced", rec.Produced).
		Int("failed", rec.Failed).
		Int64("duration_ms", rec.DurationMS).
		Msg("Session finalized")

	// Sinks run outside the lock; their failures stay here.
	if s.recorder.store != nil {
		if err := s.recorder.store.Persist(ctx, rec); err != nil {
			s.recorder.logger.Error().Err(err).
				Str("session_id", rec.SessionID).
				Msg("Metrics persist failed")
		}
	}
	if s.recorder.notifier != nil {
		s.recorder.notifier.SessionFinished(ctx, rec)
	}

	return nil
}

// firstStageStartLocked approximates when pipeline work began: the first
// stage's report time minus its own duration. Sessions with no stages
// fall back to the session open time. Callers must hold s.mu.
func (s *Session) firstStageStartLocked() time.Time {
	if len(s.data.Stages) == 0 {
		return s.data.StartedAt
	}
	first := s.data.Stages[0]
	start := first.RecordedAt.Add(-first.Duration)
	if start.After(s.data.StartedAt) && !s.data.StartedAt.IsZero() {
		// The session was opened before the first stage ran; prefer
		// the later of the two only when the clock moved sanely.
		return start
	}
	return s.data.StartedAt
}

// Snapshot returns a copy of the current session state. Used by tests
// and diagnostics; the returned value shares no mutable state.
func (s *Session) Snapshot() models.IngestionSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.data
	snap.Stages = append([]models.StageRecord(nil), s.data.Stages...)
	return snap
}

// deriveStatus maps stage outcomes and unit counts to a session status.
func deriveStatus(s *models.IngestionSession) models.SessionStatus {
	_, failedStages := s.StageSummary()

	switch {
	case len(s.Stages) > 0 && failedStages == len(s.Stages):
		return models.StatusFailed
	case s.Produced == 0 && s.Failed > 0:
		return models.StatusFailed
	case failedStages > 0 || s.Failed > 0:
		return models.StatusPartial
	default:
		return models.StatusSuccess
	}
}
