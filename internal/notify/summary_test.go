// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package notify

import (
	"strings"
	"testing"

	"github.com/ingestwatch/ingestwatch/internal/models"
)

func TestBuildSummaryAggregates(t *testing.T) {
	records := []models.MetricsRecord{
		{Status: models.StatusSuccess, Category: "documents", Produced: 10, Failed: 0, DurationMS: 100},
		{Status: models.StatusSuccess, Category: "images", Produced: 5, Failed: 1, DurationMS: 300},
		{Status: models.StatusPartial, Category: "documents", Produced: 2, Failed: 3, DurationMS: 200},
	}

	s := BuildSummary(records, 4)
	if s.Sessions != 3 || s.Success != 2 || s.Partial != 1 || s.Failed != 0 {
		t.Errorf("counts = %+v, want 3/2/1/0", s)
	}
	if s.Produced != 17 || s.FailedUnits != 4 {
		t.Errorf("units = %d/%d, want 17/4", s.Produced, s.FailedUnits)
	}
	if s.TotalDurationMS != 600 || s.MaxDurationMS != 300 {
		t.Errorf("durations = %d/%d, want 600/300", s.TotalDurationMS, s.MaxDurationMS)
	}
	if s.ByCategory["documents"] != 2 || s.ByCategory["images"] != 1 {
		t.Errorf("categories = %v, want documents=2 images=1", s.ByCategory)
	}
	if s.Dropped != 4 {
		t.Errorf("dropped = %d, want 4", s.Dropped)
	}

	msg := s.Message()
	for _, want := range []string{
		"3 sessions (2 success, 1 partial, 0 failed)",
		"17 produced, 4 failed",
		"documents=2, images=1",
		"4 events dropped",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message() = %q, missing %q", msg, want)
		}
	}
}

func TestImmediateMessage(t *testing.T) {
	rec := models.MetricsRecord{
		Status:       models.StatusPartial,
		Source:       "s3://bucket/reports",
		Category:     "reports",
		Produced:     8,
		Failed:       2,
		StagesTotal:  5,
		StagesFailed: 1,
		DurationMS:   1500,
	}

	msg := immediateMessage(rec)
	for _, want := range []string{
		"Ingestion partial: s3://bucket/reports",
		"[reports]",
		"8 produced, 2 failed",
		"stages: 4/5 ok",
		"1.5s",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("immediateMessage() = %q, missing %q", msg, want)
		}
	}
}
