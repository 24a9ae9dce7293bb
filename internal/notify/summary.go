// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ingestwatch/ingestwatch/internal/models"
)

// Summary aggregates all session records drained in one flush.
type Summary struct {
	Sessions   int
	Success    int
	Partial    int
	Failed     int
	ByCategory map[string]int

	Produced    int
	FailedUnits int

	TotalDurationMS int64
	MaxDurationMS   int64

	// Dropped is the number of queued events lost to overflow or
	// exhausted retries since the previous flush.
	Dropped int
}

// BuildSummary folds the drained records into one summary.
func BuildSummary(records []models.MetricsRecord, dropped int) Summary {
	s := Summary{
		ByCategory: make(map[string]int),
		Dropped:    dropped,
	}
	for _, rec := range records {
		s.Sessions++
		switch rec.Status {
		case models.StatusSuccess:
			s.Success++
		case models.StatusPartial:
			s.Partial++
		case models.StatusFailed:
			s.Failed++
		}
		if rec.Category != "" {
			s.ByCategory[rec.Category]++
		}
		s.Produced += rec.Produced
		s.FailedUnits += rec.Failed
		s.TotalDurationMS += rec.DurationMS
		if rec.DurationMS > s.MaxDurationMS {
			s.MaxDurationMS = rec.DurationMS
		}
	}
	return s
}

// Message renders the summary as notification text.
func (s Summary) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ingestion summary: %d sessions (%d success, %d partial, %d failed)\n",
		s.Sessions, s.Success, s.Partial, s.Failed)
	fmt.Fprintf(&b, "Units: %d produced, %d failed\n", s.Produced, s.FailedUnits)

	if s.Sessions > 0 {
		avg := time.Duration(s.TotalDurationMS/int64(s.Sessions)) * time.Millisecond
		maxDur := time.Duration(s.MaxDurationMS) * time.Millisecond
		fmt.Fprintf(&b, "Duration: avg %s, max %s, total %s\n",
			avg, maxDur, time.Duration(s.TotalDurationMS)*time.Millisecond)
	}

	if len(s.ByCategory) > 0 {
		categories := make([]string, 0, len(s.ByCategory))
		for cat := range s.ByCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		parts := make([]string, 0, len(categories))
		for _, cat := range categories {
			parts = append(parts, fmt.Sprintf("%s=%d", cat, s.ByCategory[cat]))
		}
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(parts, ", "))
	}

	if s.Dropped > 0 {
		fmt.Fprintf(&b, "WARNING: %d events dropped since last summary\n", s.Dropped)
	}

	return strings.TrimRight(b.String(), "\n")
}

// immediateMessage renders a single-session notification.
func immediateMessage(rec models.MetricsRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ingestion %s: %s", rec.Status, rec.Source)
	if rec.Category != "" {
		fmt.Fprintf(&b, " [%s]", rec.Category)
	}
	fmt.Fprintf(&b, "\nUnits: %d produced, %d failed; stages: %d/%d ok; duration %s",
		rec.Produced, rec.Failed,
		rec.StagesTotal-rec.StagesFailed, rec.StagesTotal,
		time.Duration(rec.DurationMS)*time.Millisecond)
	return b.String()
}
