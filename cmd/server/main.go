// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package main is the entry point for the Tandem core server.
//
// Tandem pairs users into accountability partnerships: a compatibility
// engine scores candidates, a matching queue pairs them, a state machine
// governs the partnership lifecycle, and a check-in engine turns daily
// activity into streaks, accountability scores, and partnership health.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 over environment variables (TANDEM_ prefix)
//     and an optional config file
//  2. Logging: global zerolog logger
//  3. Database: DuckDB storage for preferences, queue, partnerships,
//     check-ins, streaks, and the event outbox
//  4. Services: compatibility engine, partnership lifecycle, check-ins,
//     health scorer, matching queue
//  5. Events: watermill publisher (in-process GoChannel by default, NATS
//     JetStream with TANDEM_EVENTS_NATS_ENABLED=true)
//  6. Scheduler: suture-supervised periodic jobs (matching pass, request
//     expiry, health recompute, streak decay, queue eviction, outbox
//     drain)
//
// The REST surface, identity, and notification delivery live in the
// surrounding platform; this binary runs the core and its jobs.
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// supervisor tree cancels all jobs, in-flight transactions complete, and
// the database is checkpointed on close.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/checkin"
	"github.com/tomtom215/tandem/internal/compat"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/health"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/matching"
	"github.com/tomtom215/tandem/internal/partnership"
	"github.com/tomtom215/tandem/internal/scheduler"
)

// accountabilityCacheTTL bounds the derived accountability score cache.
const accountabilityCacheTTL = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logger := logging.With().Str("component", "server").Logger()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("database close failed")
		}
	}()
	logger.Info().Str("path", cfg.Database.Path).Msg("database ready")

	scoreCache := cache.New(cfg.Compat.CacheTTL)
	defer scoreCache.Close()
	accountabilityCache := cache.New(accountabilityCacheTTL)
	defer accountabilityCache.Close()

	engine, err := compat.New(compat.Config{
		Weights:   compat.DefaultWeights,
		Threshold: cfg.Matching.Threshold,
		CacheTTL:  cfg.Compat.CacheTTL,
	}, scoreCache)
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return err
	}
	notifier := events.NewNotifier(db, publisher, cfg.Events.Topic, cfg.Events.PublishRate)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn().Err(err).Msg("notifier close failed")
		}
	}()

	partnerships := partnership.NewService(db, notifier, cfg.Partnership)
	checkins := checkin.NewService(db, accountabilityCache, notifier, cfg.Streak)
	healthScorer := health.NewService(db, checkins, notifier, cfg.Health)
	matcher := matching.NewService(db, engine, partnerships, cfg.Matching)

	sched := scheduler.New(scheduler.DefaultTreeConfig())
	sched.Register(scheduler.Deps{
		Store:        db,
		Matching:     matcher,
		Partnerships: partnerships,
		CheckIns:     checkins,
		Health:       healthScorer,
		Notifier:     notifier,
	}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("tandem core running")
	err = sched.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, reportErr := sched.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logger.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
