// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package metrics defines the Prometheus instruments for the matching
// and partnership core: queue depth and age, matching pass outcomes,
// partnership lifecycle counts, check-in volume, outbound event delivery,
// and scheduler job health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matching_queue_depth",
			Help: "Current number of queue entries by status",
		},
		[]string{"status"},
	)

	QueueOldestWaitingSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matching_queue_oldest_waiting_seconds",
			Help: "Age in seconds of the oldest live queue entry, 0 when empty",
		},
	)

	// Matching Pass Metrics
	MatchPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_passes_total",
			Help: "Total number of matching passes by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	MatchProposalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_proposals_total",
			Help: "Total number of partnership proposals opened by matching passes",
		},
	)

	// Partnership Metrics
	PartnershipTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partnership_transitions_total",
			Help: "Total number of partnership state transitions",
		},
		[]string{"to"},
	)

	PartnershipsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partnerships_expired_total",
			Help: "Total number of pending requests expired by the TTL job",
		},
	)

	// Check-in Metrics
	CheckInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "check_ins_total",
			Help: "Total number of recorded check-ins by kind",
		},
		[]string{"kind"}, // "DAILY", "WEEKLY"
	)

	StreaksDecayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streaks_decayed_total",
			Help: "Total number of member streaks reset by the decay job",
		},
	)

	// Health Metrics
	HealthRecomputedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partnership_health_recomputed_total",
			Help: "Total number of partnership health recomputations",
		},
	)

	HealthAtRiskTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partnership_health_at_risk_total",
			Help: "Total number of at-risk band entries detected",
		},
	)

	// Outbound Event Metrics
	EventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbound_events_published_total",
			Help: "Total number of outbox events delivered to the bus",
		},
	)

	EventPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbound_event_publish_failures_total",
			Help: "Total number of failed outbox drain attempts",
		},
	)

	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbound_events_pending",
			Help: "Number of undelivered events in the outbox after the last drain",
		},
	)

	// Scheduler Metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduler job runs by job and outcome",
		},
		[]string{"job", "outcome"}, // outcome: "ok", "error"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Scheduler job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// ObserveQueue updates the queue gauges from a depth snapshot.
func ObserveQueue(depth map[string]int, oldestWaitingSeconds float64) {
	for _, status := range []string{"WAITING", "MATCHING", "ADMITTED", "LEFT"} {
		QueueDepth.WithLabelValues(status).Set(float64(depth[status]))
	}
	QueueOldestWaitingSeconds.Set(oldestWaitingSeconds)
}
