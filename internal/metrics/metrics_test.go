// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(MatchProposalsTotal)
	MatchProposalsTotal.Inc()
	if got := testutil.ToFloat64(MatchProposalsTotal); got != before+1 {
		t.Errorf("MatchProposalsTotal = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(CheckInsTotal.WithLabelValues("DAILY"))
	CheckInsTotal.WithLabelValues("DAILY").Inc()
	if got := testutil.ToFloat64(CheckInsTotal.WithLabelValues("DAILY")); got != before+1 {
		t.Errorf("CheckInsTotal = %v, want %v", got, before+1)
	}
}

func TestObserveQueue(t *testing.T) {
	ObserveQueue(map[string]int{"WAITING": 3, "ADMITTED": 1}, 42.5)

	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("WAITING")); got != 3 {
		t.Errorf("waiting depth = %v, want 3", got)
	}
	// Statuses absent from the snapshot reset to zero.
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("MATCHING")); got != 0 {
		t.Errorf("matching depth = %v, want 0", got)
	}
	if got := testutil.ToFloat64(QueueOldestWaitingSeconds); got != 42.5 {
		t.Errorf("oldest waiting = %v, want 42.5", got)
	}
}

func TestJobInstrumentsAreLabeled(t *testing.T) {
	JobRunsTotal.WithLabelValues("match-pass", "ok").Inc()
	JobDuration.WithLabelValues("match-pass").Observe(0.02)

	if got := testutil.ToFloat64(JobRunsTotal.WithLabelValues("match-pass", "ok")); got < 1 {
		t.Errorf("JobRunsTotal = %v, want >= 1", got)
	}
}
