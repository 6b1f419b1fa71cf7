// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package health derives a partnership health score from check-in
// regularity, recency, and the current streak, and raises a durable
// edge-triggered alert when a partnership enters the at-risk band.
package health

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/checkin"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// Component weights. They sum to 100 so the score lands in [0,100].
const (
	recencyWeight = 40.0
	balanceWeight = 25.0
	averageWeight = 20.0
	streakWeight  = 15.0
)

// recencyHorizonDays is the inactivity span after which the recency
// component bottoms out.
const recencyHorizonDays = 14.0

// streakTargetDays is the streak length that saturates the streak
// component.
const streakTargetDays = 14.0

// Service recomputes and persists partnership health.
type Service struct {
	store    *database.DB
	checkins *checkin.Service
	notifier *events.Notifier
	cfg      config.HealthConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the health scorer.
func NewService(store *database.DB, checkins *checkin.Service, notifier *events.Notifier, cfg config.HealthConfig) *Service {
	return &Service{
		store:    store,
		checkins: checkins,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.With().Str("component", "health").Logger(),
		now:      time.Now,
	}
}

// score combines the four health components.
func score(daysSinceActivity float64, accA, accB, streak int) float64 {
	recency := 1 - daysSinceActivity/recencyHorizonDays
	if recency < 0 {
		recency = 0
	}
	balance := 1 - math.Abs(float64(accA-accB))/100
	average := float64(accA+accB) / 200
	streakFactor := float64(streak) / streakTargetDays
	if streakFactor > 1 {
		streakFactor = 1
	}
	return recencyWeight*recency + balanceWeight*balance + averageWeight*average + streakWeight*streakFactor
}

// Compute derives the current health of a partnership without persisting
// it.
func (s *Service) Compute(ctx context.Context, p *models.Partnership) (float64, error) {
	accA, err := s.checkins.Accountability(ctx, p.ID, p.UserA)
	if err != nil {
		return 0, err
	}
	accB, err := s.checkins.Accountability(ctx, p.ID, p.UserB)
	if err != nil {
		return 0, err
	}

	days := s.now().UTC().Sub(p.LastActivityAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return score(days, accA, accB, p.CurrentStreak), nil
}

// Recompute refreshes a partnership's stored health. Health is written at
// most once per staleness window; a fresher score is left alone. Entering
// the at-risk band records a durable transition and emits HealthAtRisk
// exactly once per entry.
func (s *Service) Recompute(ctx context.Context, partnershipID uuid.UUID) error {
	p, err := s.store.GetPartnership(ctx, partnershipID)
	if err != nil {
		return err
	}
	if !p.Status.Counted() {
		return fault.New(fault.KindWrongState, "partnership %s is %s, health applies to ACTIVE and PAUSED", p.ID, p.Status)
	}

	now := s.now().UTC()
	if now.Sub(p.HealthUpdatedAt) < s.cfg.Staleness {
		return nil
	}

	health, err := s.Compute(ctx, p)
	if err != nil {
		return err
	}

	p.Health = health
	p.HealthUpdatedAt = now
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return err
	}

	atRisk := health < s.cfg.RiskThreshold
	wasAtRisk, err := s.store.LastHealthAtRisk(ctx, p.ID)
	if err != nil {
		return err
	}
	if atRisk == wasAtRisk {
		return nil
	}

	if err := s.store.InsertHealthEvent(ctx, p.ID, health, atRisk, now); err != nil {
		return err
	}
	if atRisk {
		metrics.HealthAtRiskTotal.Inc()
		s.emit(ctx, events.HealthAtRisk{PartnershipID: p.ID, Health: health, DetectedAt: now})
		s.logger.Warn().Str("partnership_id", p.ID.String()).
			Float64("health", health).Msg("partnership entered at-risk band")
	} else {
		s.logger.Info().Str("partnership_id", p.ID.String()).
			Float64("health", health).Msg("partnership recovered from at-risk band")
	}
	return nil
}

// RecomputeStale refreshes every counted partnership whose stored health
// is older than the staleness window. Called by the scheduler; individual
// failures are logged and skipped. Returns how many were recomputed.
func (s *Service) RecomputeStale(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Staleness)
	stale, err := s.store.ListStaleHealth(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recomputed := 0
	for i := range stale {
		if err := s.Recompute(ctx, stale[i].ID); err != nil {
			s.logger.Warn().Err(err).Str("partnership_id", stale[i].ID.String()).Msg("health recompute skipped")
			continue
		}
		recomputed++
	}
	if recomputed > 0 {
		s.logger.Debug().Int("recomputed", recomputed).Msg("stale health refreshed")
	}
	return recomputed, nil
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", ev.EventType()).Msg("event not recorded")
	}
}
