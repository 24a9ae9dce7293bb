// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package models

import (
	"time"
)

// StageSnapshot is the flattened form of a StageRecord carried inside a
// MetricsRecord. Durations are stored in milliseconds so the snapshot
// round-trips through JSON and SQL without precision surprises.
type StageSnapshot struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// MetricsRecord is the realtime metrics row for one finalized session.
// It is written exactly once per session and is fully self-contained:
// a failover log line holding a MetricsRecord can be replayed into the
// store with no other context.
type MetricsRecord struct {
	SessionID     string          `json:"session_id"`
	Source        string          `json:"source"`
	Category      string          `json:"category,omitempty"`
	Quality       float64         `json:"quality,omitempty"`
	Status        SessionStatus   `json:"status"`
	Produced      int             `json:"produced"`
	Failed        int             `json:"failed"`
	StagesTotal   int             `json:"stages_total"`
	StagesFailed  int             `json:"stages_failed"`
	DurationMS    int64           `json:"duration_ms"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Stages        []StageSnapshot `json:"stages,omitempty"`
}

// NewMetricsRecord flattens a finalized session into its realtime row.
func NewMetricsRecord(s *IngestionSession) MetricsRecord {
	rec := MetricsRecord{
		SessionID:   s.ID,
		Source:      s.Source,
		Category:    s.Category,
		Quality:     s.Quality,
		Status:      s.Status,
		Produced:    s.Produced,
		Failed:      s.Failed,
		StagesTotal: len(s.Stages),
		DurationMS:  s.TotalDuration.Milliseconds(),
		StartedAt:   s.StartedAt.UTC(),
		FinishedAt:  s.FinishedAt.UTC(),
	}
	for _, st := range s.Stages {
		if !st.Success {
			rec.StagesFailed++
		}
		rec.Stages = append(rec.Stages, StageSnapshot{
			Name:       string(st.Name),
			DurationMS: st.Duration.Milliseconds(),
			Success:    st.Success,
		})
	}
	return rec
}

// FailoverEntry is one line of the local failover log: a realtime
// record snapshot written when the durable store was unreachable.
// Replay is idempotent by SessionID, so entries are safe to re-apply
// in any order.
type FailoverEntry struct {
	ID       string        `json:"id"`
	Record   MetricsRecord `json:"record"`
	LoggedAt time.Time     `json:"logged_at"`
	Attempts int           `json:"attempts,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

// BucketStats is one hourly or daily aggregate row.
type BucketStats struct {
	Bucket        time.Time `json:"bucket"`
	Sessions      int64     `json:"sessions"`
	Succeeded     int64     `json:"succeeded"`
	Partial       int64     `json:"partial"`
	Failed        int64     `json:"failed"`
	Produced      int64     `json:"produced"`
	FailedUnits   int64     `json:"failed_units"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	MaxDurationMS int64     `json:"max_duration_ms"`
}
