// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSessionFinalized(t *testing.T) {
	before := testutil.ToFloat64(SessionsFinalized.WithLabelValues("success"))
	RecordSessionFinalized("success", 2*time.Second)
	after := testutil.ToFloat64(SessionsFinalized.WithLabelValues("success"))

	if after != before+1 {
		t.Errorf("SessionsFinalized success = %v, want %v", after, before+1)
	}
}

func TestRecordPersistOutcomes(t *testing.T) {
	outcomes := []string{"stored", "failover", "duplicate"}
	for _, o := range outcomes {
		before := testutil.ToFloat64(PersistAttempts.WithLabelValues(o))
		RecordPersist(o, 10*time.Millisecond)
		after := testutil.ToFloat64(PersistAttempts.WithLabelValues(o))
		if after != before+1 {
			t.Errorf("PersistAttempts[%s] = %v, want %v", o, after, before+1)
		}
	}
}

func TestFailoverPendingGauge(t *testing.T) {
	FailoverPending.Set(7)
	if got := testutil.ToFloat64(FailoverPending); got != 7 {
		t.Errorf("FailoverPending = %v, want 7", got)
	}
	FailoverPending.Set(0)
}

func TestRecordSend(t *testing.T) {
	before := testutil.ToFloat64(NotificationsSent.WithLabelValues("throttled", "summary"))
	RecordSend("throttled", "summary")
	after := testutil.ToFloat64(NotificationsSent.WithLabelValues("throttled", "summary"))

	if after != before+1 {
		t.Errorf("NotificationsSent throttled/summary = %v, want %v", after, before+1)
	}
}
