// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package partnership implements the partnership store front and its
// lifecycle state machine: request, accept, reject, cancel, pause,
// resume, end, and the scheduled expiry of stale pending requests.
package partnership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// countTransition records a state change on the transitions counter.
func countTransition(to models.PartnershipStatus) {
	metrics.PartnershipTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// maxMessageLen caps the free-text request message.
const maxMessageLen = 1024

// Service owns partnership lifecycle operations. All state changes are
// all-or-nothing; events are emitted after the durable write and are
// best-effort.
type Service struct {
	store    *database.DB
	notifier *events.Notifier
	cfg      config.PartnershipConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the partnership service.
func NewService(store *database.DB, notifier *events.Notifier, cfg config.PartnershipConfig) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.With().Str("component", "partnership").Logger(),
		now:      time.Now,
	}
}

// Request opens a PENDING partnership from initiator to recipient.
// Rejects self-pairing, duplicate live pairs, and either side being at its
// concurrent cap.
func (s *Service) Request(ctx context.Context, initiator, recipient models.UserID, message string, durationDays int) (*models.Partnership, error) {
	if initiator == recipient {
		return nil, fault.New(fault.KindInvalid, "cannot partner user %s with themselves", initiator)
	}
	if len(message) > maxMessageLen {
		return nil, fault.New(fault.KindInvalid, "request message exceeds %d bytes", maxMessageLen)
	}
	if durationDays < 0 {
		return nil, fault.New(fault.KindInvalid, "duration days must be non-negative")
	}

	capByUser, err := s.resolveCaps(ctx, initiator, recipient)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	userA, userB := models.OrderPair(initiator, recipient)
	p := &models.Partnership{
		ID:              uuid.New(),
		UserA:           userA,
		UserB:           userB,
		Initiator:       initiator,
		Status:          models.StatusPending,
		Message:         message,
		DurationDays:    durationDays,
		CreatedAt:       now,
		LastActivityAt:  now,
		HealthUpdatedAt: now,
	}

	if err := s.store.CreatePartnership(ctx, p, capByUser[userA], capByUser[userB]); err != nil {
		return nil, err
	}
	countTransition(models.StatusPending)

	s.emit(ctx, events.MatchProposed{
		PartnershipID: p.ID,
		UserA:         p.UserA,
		UserB:         p.UserB,
		Initiator:     initiator,
		Score:         p.MatchScore,
		ProposedAt:    now,
	})
	s.logger.Info().Str("partnership_id", p.ID.String()).
		Str("initiator", string(initiator)).Str("recipient", string(recipient)).
		Msg("partnership requested")
	return p, nil
}

// CreateProposal opens a PENDING partnership on behalf of the matching
// pass, carrying the computed score. Same invariants as Request.
func (s *Service) CreateProposal(ctx context.Context, initiator, recipient models.UserID, score float64) (*models.Partnership, error) {
	p, err := s.Request(ctx, initiator, recipient, "", 0)
	if err != nil {
		return nil, err
	}
	p.MatchScore = score
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept transitions PENDING→ACTIVE. Only the recipient may accept; both
// users' caps are re-checked atomically because a PENDING request holds
// no slot.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireRecipient(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusActive); err != nil {
		return nil, err
	}

	capByUser, err := s.resolveCaps(ctx, p.UserA, p.UserB)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.Status = models.StatusActive
	p.RespondedAt = &now
	p.LastActivityAt = now
	if err := s.store.ActivatePartnership(ctx, p, capByUser[p.UserA], capByUser[p.UserB]); err != nil {
		return nil, err
	}
	countTransition(models.StatusActive)

	s.emit(ctx, events.PartnershipAccepted{PartnershipID: p.ID, Actor: actor, AcceptedAt: now})
	s.logger.Info().Str("partnership_id", p.ID.String()).Str("actor", string(actor)).Msg("partnership accepted")
	return p, nil
}

// Reject transitions PENDING→REJECTED. Only the recipient may reject.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor models.UserID, reason string) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireRecipient(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusRejected); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.Status = models.StatusRejected
	p.RespondedAt = &now
	p.EndedAt = &now
	p.EndReason = models.EndReasonRejected
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	countTransition(models.StatusRejected)

	s.emit(ctx, events.PartnershipRejected{PartnershipID: p.ID, Actor: actor, Reason: reason, RejectedAt: now})
	return p, nil
}

// Cancel withdraws a pending request. Only the initiator may cancel;
// the partnership becomes EXPIRED with endReason CANCELLED.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireInitiator(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusExpired); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.Status = models.StatusExpired
	p.EndedAt = &now
	p.EndReason = models.EndReasonCancelled
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	countTransition(models.StatusExpired)

	s.emit(ctx, events.PartnershipExpired{PartnershipID: p.ID, ExpiredAt: now})
	return p, nil
}

// Pause transitions ACTIVE→PAUSED. Either member may pause.
func (s *Service) Pause(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusPaused); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.Status = models.StatusPaused
	p.PausedAt = &now
	p.LastActivityAt = now
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	countTransition(models.StatusPaused)

	s.emit(ctx, events.PartnershipPaused{PartnershipID: p.ID, Actor: actor, PausedAt: now})
	return p, nil
}

// Resume transitions PAUSED→ACTIVE, accumulating the paused duration.
func (s *Service) Resume(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusActive); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if p.PausedAt != nil {
		p.PausedTotal += now.Sub(*p.PausedAt)
	}
	p.Status = models.StatusActive
	p.PausedAt = nil
	p.LastActivityAt = now
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	countTransition(models.StatusActive)

	s.emit(ctx, events.PartnershipResumed{PartnershipID: p.ID, Actor: actor, ResumedAt: now})
	return p, nil
}

// End transitions ACTIVE|PAUSED→ENDED. Either member may end; the actor
// may attach a 1..5 rating.
func (s *Service) End(ctx context.Context, id uuid.UUID, actor models.UserID, reason models.EndReason, rating *int) (*models.Partnership, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fault.New(fault.KindInvalid, "rating must be in 1..5, got %d", *rating)
	}
	if reason == "" {
		reason = models.EndReasonUser
	}

	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(p, actor); err != nil {
		return nil, err
	}
	if err := requireTransition(p, models.StatusEnded); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if p.Status == models.StatusPaused && p.PausedAt != nil {
		p.PausedTotal += now.Sub(*p.PausedAt)
		p.PausedAt = nil
	}
	p.Status = models.StatusEnded
	p.EndedAt = &now
	p.EndReason = reason
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	countTransition(models.StatusEnded)

	if rating != nil {
		err := s.store.RecordRating(ctx, &models.PartnershipRating{
			PartnershipID: p.ID,
			RaterID:       actor,
			Rating:        *rating,
			CreatedAt:     now,
		})
		if err != nil {
			// The partnership is already ended; a duplicate rating is not
			// worth failing the operation over.
			s.logger.Warn().Err(err).Str("partnership_id", p.ID.String()).Msg("rating not recorded")
		}
	}

	s.emit(ctx, events.PartnershipEnded{PartnershipID: p.ID, Actor: actor, Reason: reason, EndedAt: now})
	s.logger.Info().Str("partnership_id", p.ID.String()).Str("reason", string(reason)).Msg("partnership ended")
	return p, nil
}

// Get retrieves a partnership. The viewer must be a participant.
func (s *Service) Get(ctx context.Context, id uuid.UUID, viewer models.UserID) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(p, viewer); err != nil {
		return nil, err
	}
	return p, nil
}

// List retrieves a user's partnerships, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID models.UserID, statuses []models.PartnershipStatus) ([]models.Partnership, error) {
	return s.store.ListPartnerships(ctx, userID, statuses)
}

// RecordSession bumps the session counter on an ACTIVE partnership.
func (s *Service) RecordSession(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	return s.bumpCounter(ctx, id, actor, func(p *models.Partnership) { p.TotalSessions++ })
}

// RecordGoalCompleted bumps the completed-goal counter on an ACTIVE
// partnership.
func (s *Service) RecordGoalCompleted(ctx context.Context, id uuid.UUID, actor models.UserID) (*models.Partnership, error) {
	return s.bumpCounter(ctx, id, actor, func(p *models.Partnership) { p.TotalGoalsCompleted++ })
}

func (s *Service) bumpCounter(ctx context.Context, id uuid.UUID, actor models.UserID, bump func(*models.Partnership)) (*models.Partnership, error) {
	p, err := s.store.GetPartnership(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(p, actor); err != nil {
		return nil, err
	}
	if p.Status != models.StatusActive {
		return nil, fault.New(fault.KindWrongState, "partnership %s is %s, not ACTIVE", p.ID, p.Status)
	}

	bump(p)
	p.LastActivityAt = s.now().UTC()
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ExpireStalePending transitions PENDING requests older than the request
// TTL to EXPIRED. Called hourly by the scheduler; returns the number
// expired.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.store.ListStalePending(ctx, now.Add(-s.cfg.RequestTTL))
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		p := &stale[i]
		p.Status = models.StatusExpired
		p.EndedAt = &now
		p.EndReason = models.EndReasonExpired
		if err := s.store.UpdatePartnership(ctx, p); err != nil {
			return expired, err
		}
		countTransition(models.StatusExpired)
		expired++
		s.emit(ctx, events.PartnershipExpired{PartnershipID: p.ID, ExpiredAt: now})
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("stale pending requests expired")
	}
	return expired, nil
}

// resolveCaps loads both users' concurrent caps from preferences. A user
// without preferences cannot partner.
func (s *Service) resolveCaps(ctx context.Context, a, b models.UserID) (map[models.UserID]int, error) {
	prefs, err := s.store.ListPreferencesForUsers(ctx, []models.UserID{a, b})
	if err != nil {
		return nil, err
	}
	caps := make(map[models.UserID]int, 2)
	for _, id := range []models.UserID{a, b} {
		p, ok := prefs[id]
		if !ok {
			return nil, fault.New(fault.KindNotFound, "preferences for user %s not found", id)
		}
		caps[id] = p.MaxPartners
		if caps[id] <= 0 {
			caps[id] = models.DefaultMaxPartners
		}
	}
	return caps, nil
}

// emit logs and swallows notification failures; delivery is best-effort
// and the durable state change already stands.
func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", ev.EventType()).Msg("event not recorded")
	}
}
