// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package models defines the shared data types for the ingestion
// observability pipeline: sessions, stage records, metrics snapshots,
// and notification summaries.
package models

import (
	"time"
)

// Stage is the name of one step of the ingestion pipeline.
type Stage string

// Canonical pipeline stages, in execution order. Aggregation keys on
// these names; unknown stage names are recorded but not rejected.
const (
	StageAcquisition Stage = "acquisition"
	StageExtraction  Stage = "extraction"
	StageChunking    Stage = "chunking"
	StageEmbedding   Stage = "embedding"
	StageValidation  Stage = "validation"
	StageStorage     Stage = "storage"
	StageIndexing    Stage = "indexing"
)

// CanonicalStages lists the pipeline stages in canonical order.
var CanonicalStages = []Stage{
	StageAcquisition,
	StageExtraction,
	StageChunking,
	StageEmbedding,
	StageValidation,
	StageStorage,
	StageIndexing,
}

// IsCanonicalStage reports whether name is one of the canonical stages.
func IsCanonicalStage(name Stage) bool {
	for _, s := range CanonicalStages {
		if s == name {
			return true
		}
	}
	return false
}

// SessionStatus is the overall outcome of an ingestion session.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusSuccess SessionStatus = "success"
	StatusPartial SessionStatus = "partial"
	StatusFailed  SessionStatus = "failed"
)

// MaxMetaKeys bounds the free-form metadata maps attached to sessions
// and stages. Entries beyond the bound are dropped at record time so
// aggregation queries stay cheap.
const MaxMetaKeys = 16

// StageRecord captures one named step of the pipeline. Records are
// appended to a session in pipeline order and never mutated afterwards.
type StageRecord struct {
	// Name is the stage name, normally from CanonicalStages.
	Name Stage `json:"name"`

	// Duration is the reported stage duration. Negative values are
	// clamped to zero at record time.
	Duration time.Duration `json:"duration"`

	// Success indicates whether the stage completed successfully.
	Success bool `json:"success"`

	// Meta holds bounded free-form key/value extension data.
	Meta map[string]string `json:"meta,omitempty"`

	// RecordedAt is when the stage report reached the recorder.
	RecordedAt time.Time `json:"recorded_at"`
}

// IngestionSession is one complete run of the multi-stage pipeline for
// a single source. It is mutated only by its owning recorder handle and
// becomes immutable once finalized.
type IngestionSession struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// Source is the caller-supplied source reference (URL, path, feed id).
	Source string `json:"source"`

	// Category is optional classification metadata for the source.
	Category string `json:"category,omitempty"`

	// Quality is an optional quality indicator in [0,1].
	Quality float64 `json:"quality,omitempty"`

	// Stages holds the recorded stage reports in append order.
	Stages []StageRecord `json:"stages"`

	// Status is the overall session outcome.
	Status SessionStatus `json:"status"`

	// Produced is the count of output units produced (chunks, vectors).
	Produced int `json:"produced"`

	// Failed is the count of output units that failed.
	Failed int `json:"failed"`

	// StartedAt is when the session was opened.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when Finish was called. Zero while running.
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// TotalDuration spans the first stage start to the finish call.
	TotalDuration time.Duration `json:"total_duration"`

	// Extra holds bounded free-form session metadata.
	Extra map[string]string `json:"extra,omitempty"`
}

// StageSummary returns per-stage success counts for the session.
func (s *IngestionSession) StageSummary() (succeeded, failed int) {
	for _, st := range s.Stages {
		if st.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
