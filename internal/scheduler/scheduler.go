// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package scheduler supervises the periodic jobs that drive the core:
// matching passes, request expiry, health recomputation, streak decay,
// queue eviction, and outbox draining.
//
// Jobs run under a suture v4 supervisor tree with two layers. The jobs
// layer holds database-facing work; the events layer holds the outbox
// drain. A crash in either layer restarts only that layer's services,
// with exponential backoff against restart storms.
package scheduler

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/tandem/internal/checkin"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/health"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/matching"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/partnership"
)

// streak-decay fires shortly after midnight UTC so every member's local
// yesterday has closed somewhere before noon their time.
const (
	streakDecayHour   = 0
	streakDecayMinute = 10
)

// TreeConfig holds supervision parameters.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is the duration to wait when the threshold is
	// exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Scheduler is the supervised job tree.
type Scheduler struct {
	root   *suture.Supervisor
	jobs   *suture.Supervisor
	events *suture.Supervisor
	config TreeConfig
}

// New creates the supervisor tree. Jobs are registered separately via
// AddJob or Register.
func New(cfg TreeConfig) *Scheduler {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("tandem", rootSpec)
	jobs := suture.New("jobs-layer", childSpec)
	eventsLayer := suture.New("events-layer", childSpec)
	root.Add(jobs)
	root.Add(eventsLayer)

	return &Scheduler{root: root, jobs: jobs, events: eventsLayer, config: cfg}
}

// AddJob adds a service to the jobs layer.
func (s *Scheduler) AddJob(svc suture.Service) suture.ServiceToken {
	return s.jobs.Add(svc)
}

// AddEventService adds a service to the events layer.
func (s *Scheduler) AddEventService(svc suture.Service) suture.ServiceToken {
	return s.events.Add(svc)
}

// Serve starts the tree and blocks until the context is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine; the channel
// receives the terminal error when the tree stops.
func (s *Scheduler) ServeBackground(ctx context.Context) <-chan error {
	return s.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout.
func (s *Scheduler) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return s.root.UnstoppedServiceReport()
}

// Deps are the services the core jobs drive.
type Deps struct {
	Store        *database.DB
	Matching     *matching.Service
	Partnerships *partnership.Service
	CheckIns     *checkin.Service
	Health       *health.Service
	Notifier     *events.Notifier
}

// Register wires the six core jobs into the tree.
func (s *Scheduler) Register(deps Deps, cfg *config.Config) {
	s.AddJob(NewIntervalJob("match-pass", cfg.Matching.Interval, false, func(ctx context.Context) error {
		proposals, err := deps.Matching.RunMatchingPass(ctx)
		if err != nil {
			metrics.MatchPassesTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.MatchPassesTotal.WithLabelValues("ok").Inc()
		metrics.MatchProposalsTotal.Add(float64(proposals))
		observeQueue(ctx, deps.Matching)
		return nil
	}))

	s.AddJob(NewIntervalJob("expire-pending", cfg.Partnership.ExpireInterval, true, func(ctx context.Context) error {
		expired, err := deps.Partnerships.ExpireStalePending(ctx)
		metrics.PartnershipsExpiredTotal.Add(float64(expired))
		return err
	}))

	s.AddJob(NewIntervalJob("health-recompute", cfg.Health.RecomputeInterval, true, func(ctx context.Context) error {
		recomputed, err := deps.Health.RecomputeStale(ctx)
		metrics.HealthRecomputedTotal.Add(float64(recomputed))
		return err
	}))

	s.AddJob(NewDailyJob("streak-decay", streakDecayHour, streakDecayMinute, func(ctx context.Context) error {
		reset, err := deps.CheckIns.DecayStreaks(ctx)
		metrics.StreaksDecayedTotal.Add(float64(reset))
		return err
	}))

	s.AddJob(NewIntervalJob("queue-eviction", cfg.Queue.EvictInterval, false, func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-cfg.Queue.IdleEvictAfter)
		_, err := deps.Store.EvictIdleQueueEntries(ctx, cutoff)
		return err
	}))

	s.AddEventService(NewIntervalJob("outbox-drain", cfg.Events.DrainInterval, true, func(ctx context.Context) error {
		published, err := deps.Notifier.Drain(ctx)
		metrics.EventsPublishedTotal.Add(float64(published))
		if err != nil {
			metrics.EventPublishFailuresTotal.Inc()
			return err
		}
		pending, listErr := deps.Store.ListUndelivered(ctx, 1)
		if listErr == nil {
			metrics.OutboxPendingEvents.Set(float64(len(pending)))
		}
		return nil
	}))
}

// observeQueue refreshes the queue gauges after a matching pass.
func observeQueue(ctx context.Context, m *matching.Service) {
	qm, err := m.Metrics(ctx)
	if err != nil {
		return
	}
	depth := make(map[string]int, len(qm.Depth))
	for status, count := range qm.Depth {
		depth[string(status)] = count
	}
	age := 0.0
	if qm.HasWaiting {
		age = time.Since(qm.OldestWaiting).Seconds()
	}
	metrics.ObserveQueue(depth, age)
}
