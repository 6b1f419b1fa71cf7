// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package checkin implements the check-in and streak engine: daily and
// weekly check-in submission with per-slot dedupe, streak maintenance in
// the author's timezone, and the rolling accountability score.
package checkin

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/validation"
)

// localDateLayout is the author-local civil date used for DAILY dedupe
// and streak math.
const localDateLayout = "2006-01-02"

// weeklySlots is the number of weekly check-in slots inside the
// accountability window.
const weeklySlots = 4

// accountabilityCacheTTL bounds how long a computed score may be served.
const accountabilityCacheTTL = 5 * time.Minute

// Service owns check-in writes and the derived streak and accountability
// reads.
type Service struct {
	store    *database.DB
	cache    *cache.Cache
	notifier *events.Notifier
	cfg      config.StreakConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the check-in service. The cache may be nil.
func NewService(store *database.DB, scoreCache *cache.Cache, notifier *events.Notifier, cfg config.StreakConfig) *Service {
	return &Service{
		store:    store,
		cache:    scoreCache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.With().Str("component", "checkin").Logger(),
		now:      time.Now,
	}
}

// SubmitDaily records a DAILY check-in and updates the author's streak
// atomically. At most one DAILY per (partnership, author, local date).
func (s *Service) SubmitDaily(ctx context.Context, partnershipID uuid.UUID, author models.UserID, payload *models.CheckInPayload) (*models.CheckIn, error) {
	return s.submit(ctx, partnershipID, author, models.CheckInDaily, payload)
}

// SubmitWeekly records a WEEKLY check-in. At most one WEEKLY per
// (partnership, author, ISO week); weekly check-ins do not touch streaks.
func (s *Service) SubmitWeekly(ctx context.Context, partnershipID uuid.UUID, author models.UserID, payload *models.CheckInPayload) (*models.CheckIn, error) {
	return s.submit(ctx, partnershipID, author, models.CheckInWeekly, payload)
}

func (s *Service) submit(ctx context.Context, partnershipID uuid.UUID, author models.UserID, kind models.CheckInKind, payload *models.CheckInPayload) (*models.CheckIn, error) {
	if payload == nil {
		return nil, fault.New(fault.KindInvalid, "check-in payload is required")
	}
	if err := validation.ValidateStruct(payload); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "check-in payload rejected")
	}

	p, err := s.store.GetPartnership(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	if !p.Participant(author) {
		return nil, fault.New(fault.KindForbidden, "user %s is not a member of partnership %s", author, partnershipID)
	}
	if p.Status != models.StatusActive {
		return nil, fault.New(fault.KindWrongState, "partnership %s is %s, check-ins require ACTIVE", partnershipID, p.Status)
	}

	prefs, err := s.store.GetPreferences(ctx, author)
	if err != nil {
		return nil, err
	}
	loc, err := prefs.Location()
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "author timezone %q", prefs.Timezone)
	}

	now := s.now().UTC()
	local := now.In(loc)

	checkIn := &models.CheckIn{
		ID:            uuid.New(),
		PartnershipID: partnershipID,
		Author:        author,
		Kind:          kind,
		Mood:          payload.Mood,
		Energy:        payload.Energy,
		Productivity:  payload.Productivity,
		Stress:        payload.Stress,
		Notes:         payload.Notes,
		CreatedAt:     now,
	}

	var streak *models.StreakState
	var milestone int
	switch kind {
	case models.CheckInDaily:
		checkIn.LocalDate = local.Format(localDateLayout)
		streak, err = s.store.GetStreakState(ctx, partnershipID, author)
		if err != nil {
			return nil, err
		}
		milestone = advanceStreak(streak, checkIn.LocalDate, now)
	case models.CheckInWeekly:
		year, week := local.ISOWeek()
		checkIn.ISOWeek = fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return nil, fault.New(fault.KindInvalid, "unknown check-in kind %q", kind)
	}

	if err := s.store.InsertCheckIn(ctx, checkIn, streak); err != nil {
		return nil, err
	}

	// The partnership-level streak mirrors the strongest member streak.
	if streak != nil && streak.Current > p.CurrentStreak {
		p.CurrentStreak = streak.Current
	}
	p.LastActivityAt = now
	if err := s.store.UpdatePartnership(ctx, p); err != nil {
		return nil, err
	}

	s.invalidateAccountability(partnershipID)
	metrics.CheckInsTotal.WithLabelValues(string(kind)).Inc()

	slot := checkIn.LocalDate
	if kind == models.CheckInWeekly {
		slot = checkIn.ISOWeek
	}
	s.emit(ctx, events.CheckInRecorded{
		PartnershipID: partnershipID,
		Author:        author,
		Kind:          kind,
		Slot:          slot,
		RecordedAt:    now,
	})
	if milestone > 0 {
		s.emit(ctx, events.StreakMilestone{
			PartnershipID: partnershipID,
			UserID:        author,
			Days:          milestone,
			ReachedAt:     now,
		})
	}

	s.logger.Debug().Str("partnership_id", partnershipID.String()).
		Str("author", string(author)).Str("kind", string(kind)).Str("slot", slot).
		Msg("check-in recorded")
	return checkIn, nil
}

// advanceStreak applies the streak rule for a DAILY check-in on local
// date d and returns the milestone length reached, or 0.
//
// A check-in the day after the last one extends the streak; a repeat of
// the same day leaves it unchanged (the slot constraint rejects the
// write anyway); anything else resets to 1.
func advanceStreak(streak *models.StreakState, d string, now time.Time) int {
	switch streak.LastCheckInDate {
	case d:
		return 0
	case previousDate(d):
		streak.Current++
	default:
		streak.Current = 1
	}
	if streak.Current > streak.Longest {
		streak.Longest = streak.Current
	}
	streak.LastCheckInDate = d
	streak.UpdatedAt = now

	if events.IsStreakMilestone(streak.Current) {
		return streak.Current
	}
	return 0
}

// previousDate returns the civil date one day before d. Civil date math
// needs no timezone; d is already author-local.
func previousDate(d string) string {
	t, err := time.Parse(localDateLayout, d)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(localDateLayout)
}

// List retrieves a partnership's check-ins within a range. The viewer
// must be a participant; check-ins are visible to both members.
func (s *Service) List(ctx context.Context, partnershipID uuid.UUID, viewer models.UserID, from, to time.Time, limit int) ([]models.CheckIn, error) {
	p, err := s.store.GetPartnership(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	if !p.Participant(viewer) {
		return nil, fault.New(fault.KindForbidden, "user %s is not a member of partnership %s", viewer, partnershipID)
	}

	if to.IsZero() {
		to = s.now().UTC().Add(time.Second)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListCheckIns(ctx, partnershipID, from, to, limit)
}

// Streak retrieves a member's streak state. The viewer must be a
// participant.
func (s *Service) Streak(ctx context.Context, partnershipID uuid.UUID, userID, viewer models.UserID) (*models.StreakState, error) {
	p, err := s.store.GetPartnership(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	if !p.Participant(viewer) || !p.Participant(userID) {
		return nil, fault.New(fault.KindForbidden, "user %s is not a member of partnership %s", viewer, partnershipID)
	}
	return s.store.GetStreakState(ctx, partnershipID, userID)
}

// Accountability computes a member's check-in regularity over the rolling
// window as a score in [0,100]. Cached for up to five minutes and
// invalidated on any check-in write for the partnership.
func (s *Service) Accountability(ctx context.Context, partnershipID uuid.UUID, userID models.UserID) (int, error) {
	key := accountabilityKey(partnershipID, userID)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			if score, ok := cached.(int); ok {
				return score, nil
			}
		}
	}

	windowDays := s.cfg.AccountabilityWindowDays
	if windowDays <= 0 {
		windowDays = 28
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)

	dailyHits, err := s.store.CountSlotHits(ctx, partnershipID, userID, models.CheckInDaily, since)
	if err != nil {
		return 0, err
	}
	weeklyHits, err := s.store.CountSlotHits(ctx, partnershipID, userID, models.CheckInWeekly, since)
	if err != nil {
		return 0, err
	}

	if dailyHits > windowDays {
		dailyHits = windowDays
	}
	if weeklyHits > weeklySlots {
		weeklyHits = weeklySlots
	}

	raw := 100 * (0.7*float64(dailyHits)/float64(windowDays) + 0.3*float64(weeklyHits)/float64(weeklySlots))
	score := int(math.Round(raw))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	if s.cache != nil {
		s.cache.SetWithTTL(key, score, accountabilityCacheTTL)
	}
	return score, nil
}

// DecayStreaks resets member streaks on counted partnerships where the
// member missed yesterday in their own timezone. Called daily by the
// scheduler; returns how many streaks were reset.
func (s *Service) DecayStreaks(ctx context.Context) (int, error) {
	partnerships, err := s.store.ListCountedPartnerships(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	reset := 0
	for i := range partnerships {
		p := &partnerships[i]
		states, err := s.store.ListStreakStates(ctx, p.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("partnership_id", p.ID.String()).Msg("streak decay skipped")
			continue
		}

		maxCurrent := 0
		for j := range states {
			state := &states[j]
			if state.Current == 0 {
				continue
			}
			if s.memberMissedYesterday(ctx, state, now) {
				state.Current = 0
				state.UpdatedAt = now
				if err := s.store.UpsertStreakState(ctx, state); err != nil {
					s.logger.Warn().Err(err).Str("user_id", string(state.UserID)).Msg("streak reset not written")
					continue
				}
				reset++
			}
			if state.Current > maxCurrent {
				maxCurrent = state.Current
			}
		}

		if maxCurrent < p.CurrentStreak {
			p.CurrentStreak = maxCurrent
			if err := s.store.UpdatePartnership(ctx, p); err != nil {
				s.logger.Warn().Err(err).Str("partnership_id", p.ID.String()).Msg("partnership streak not updated")
			}
		}
	}

	if reset > 0 {
		s.logger.Info().Int("reset", reset).Msg("streaks decayed")
	}
	return reset, nil
}

// memberMissedYesterday reports whether the member's last DAILY check-in
// is older than yesterday in their own timezone. Unresolvable preferences
// fall back to UTC; decay is best-effort.
func (s *Service) memberMissedYesterday(ctx context.Context, state *models.StreakState, now time.Time) bool {
	if state.LastCheckInDate == "" {
		return false
	}
	loc := time.UTC
	if prefs, err := s.store.GetPreferences(ctx, state.UserID); err == nil {
		if l, err := prefs.Location(); err == nil {
			loc = l
		}
	}
	today := now.In(loc).Format(localDateLayout)
	return state.LastCheckInDate < previousDate(today)
}

func (s *Service) invalidateAccountability(partnershipID uuid.UUID) {
	if s.cache != nil {
		s.cache.DeletePrefix("accountability:" + partnershipID.String() + ":")
	}
}

func accountabilityKey(partnershipID uuid.UUID, userID models.UserID) string {
	return "accountability:" + partnershipID.String() + ":" + string(userID)
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", ev.EventType()).Msg("event not recorded")
	}
}
