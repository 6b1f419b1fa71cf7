// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package matching implements the matching queue: join/leave/status,
// ranked suggestions, and the periodic pass that pairs queued users and
// opens pending partnership requests.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/compat"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/partnership"
)

// Suggestion is one ranked candidate for a user.
type Suggestion struct {
	Candidate models.UserID `json:"candidate"`
	Score     *compat.Score `json:"score"`
}

// QueueMetrics is the operator view of queue state. Exposed on the admin
// surface only; members see just their own position.
type QueueMetrics struct {
	Depth         map[models.QueueStatus]int `json:"depth"`
	OldestWaiting time.Time                  `json:"oldest_waiting,omitempty"`
	HasWaiting    bool                       `json:"has_waiting"`
}

// Service owns the matching queue and the periodic matching pass.
type Service struct {
	store        *database.DB
	scorer       compat.Scorer
	partnerships *partnership.Service
	cfg          config.MatchingConfig
	logger       zerolog.Logger
	now          func() time.Time

	// passMu makes the matching pass single-flight per process. A tick
	// that fires while a pass is running is dropped, not queued.
	passMu sync.Mutex
}

// NewService creates the matching service.
func NewService(store *database.DB, scorer compat.Scorer, partnerships *partnership.Service, cfg config.MatchingConfig) *Service {
	return &Service{
		store:        store,
		scorer:       scorer,
		partnerships: partnerships,
		cfg:          cfg,
		logger:       logging.With().Str("component", "matching").Logger(),
		now:          time.Now,
	}
}

// Join places a user in the matching queue. Users at their concurrent
// partner cap or flagged unavailable are ineligible.
func (s *Service) Join(ctx context.Context, userID models.UserID) (*models.QueueEntry, error) {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !prefs.Available {
		return nil, fault.New(fault.KindWrongState, "user %s is not available for matching", userID)
	}

	limit := prefs.MaxPartners
	if limit <= 0 {
		limit = models.DefaultMaxPartners
	}
	counted, err := s.store.CountCounted(ctx, userID)
	if err != nil {
		return nil, err
	}
	if counted >= limit {
		return nil, fault.New(fault.KindLimitExceeded, "user %s is at the concurrent partner cap (%d)", userID, limit)
	}

	entry, err := s.store.Enqueue(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", string(userID)).Msg("user joined matching queue")
	return entry, nil
}

// Leave removes a user from the queue. Leaving when not queued is a
// no-op.
func (s *Service) Leave(ctx context.Context, userID models.UserID) error {
	removed, err := s.store.DeleteQueueEntry(ctx, userID)
	if err != nil {
		return err
	}
	if removed {
		s.logger.Info().Str("user_id", string(userID)).Msg("user left matching queue")
	}
	return nil
}

// Status returns a user's 1-based queue position and enqueue time.
func (s *Service) Status(ctx context.Context, userID models.UserID) (*models.QueuePosition, error) {
	return s.store.QueuePosition(ctx, userID)
}

// Compatibility scores the caller against one explicit candidate. Unlike
// suggestions, below-threshold results are returned, marked as such.
func (s *Service) Compatibility(ctx context.Context, userID, otherID models.UserID) (*compat.Score, error) {
	prefs, err := s.store.ListPreferencesForUsers(ctx, []models.UserID{userID, otherID})
	if err != nil {
		return nil, err
	}
	a, ok := prefs[userID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "preferences for user %s not found", userID)
	}
	b, ok := prefs[otherID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "preferences for user %s not found", otherID)
	}
	return s.scorer.Score(a, b, s.now().UTC())
}

// Suggest returns up to limit candidates for a user, ranked by
// compatibility. Candidates are drawn from the queue plus a bounded scan
// of available non-queued users; pairs below the threshold are dropped.
func (s *Service) Suggest(ctx context.Context, userID models.UserID, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 10
	}
	me, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.candidatePool(ctx, userID)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	suggestions := make([]Suggestion, 0, len(candidates))
	for _, prefs := range candidates {
		score, err := s.scorer.Score(me, prefs, at)
		if err != nil {
			s.logger.Warn().Err(err).Str("candidate", string(prefs.UserID)).Msg("candidate skipped")
			continue
		}
		if score.BelowThreshold {
			continue
		}
		suggestions = append(suggestions, Suggestion{Candidate: prefs.UserID, Score: score})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return compat.RankBefore(suggestions[i].Score, suggestions[j].Score)
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// candidatePool gathers queued users plus a bounded scan of available
// non-queued users, keyed by id and excluding the requester.
func (s *Service) candidatePool(ctx context.Context, exclude models.UserID) (map[models.UserID]*models.UserPreferences, error) {
	pool := make(map[models.UserID]*models.UserPreferences)

	waiting, err := s.store.SnapshotWaiting(ctx)
	if err != nil {
		return nil, err
	}
	queued := make([]models.UserID, 0, len(waiting))
	for _, entry := range waiting {
		if entry.UserID != exclude {
			queued = append(queued, entry.UserID)
		}
	}
	if len(queued) > 0 {
		prefs, err := s.store.ListPreferencesForUsers(ctx, queued)
		if err != nil {
			return nil, err
		}
		for id, p := range prefs {
			pool[id] = p
		}
	}

	scanned, err := s.store.ListAvailableNonQueued(ctx, exclude, s.cfg.SuggestScanLimit)
	if err != nil {
		return nil, err
	}
	for _, p := range scanned {
		pool[p.UserID] = p
	}
	return pool, nil
}

// Metrics returns operator-facing queue counters.
func (s *Service) Metrics(ctx context.Context) (*QueueMetrics, error) {
	depth, err := s.store.CountQueueByStatus(ctx)
	if err != nil {
		return nil, err
	}
	oldest, has, err := s.store.OldestWaitingSince(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueMetrics{Depth: depth, OldestWaiting: oldest, HasWaiting: has}, nil
}

// edge is a scored candidate pair in the matching graph.
type edge struct {
	a, b       models.UserID
	aEnq, bEnq time.Time
	score      *compat.Score
}

// RunMatchingPass pairs queued users and opens pending partnership
// requests. Single-flight per process; a pass overlapping a running one
// returns immediately. Returns the number of proposals opened.
//
// Failures on individual pairs are logged and skipped; completed
// proposals stand regardless of later failures in the same pass.
func (s *Service) RunMatchingPass(ctx context.Context) (int, error) {
	if !s.passMu.TryLock() {
		s.logger.Debug().Msg("matching pass already running, tick dropped")
		return 0, nil
	}
	defer s.passMu.Unlock()

	now := s.now().UTC()
	waiting, err := s.store.SnapshotWaiting(ctx)
	if err != nil {
		return 0, err
	}
	if len(waiting) < 2 {
		return 0, nil
	}

	userIDs := make([]models.UserID, 0, len(waiting))
	enqueuedAt := make(map[models.UserID]time.Time, len(waiting))
	for _, entry := range waiting {
		userIDs = append(userIDs, entry.UserID)
		enqueuedAt[entry.UserID] = entry.EnqueuedAt
	}

	prefs, err := s.store.ListPreferencesForUsers(ctx, userIDs)
	if err != nil {
		return 0, err
	}

	edges := s.scorePairs(prefs, enqueuedAt, now)
	sort.Slice(edges, func(i, j int) bool {
		return compat.RankBefore(edges[i].score, edges[j].score)
	})

	// Greedy maximum-weight matching on the sorted edges: take an edge iff
	// neither endpoint is matched yet this pass.
	matched := make(map[models.UserID]bool)
	proposals := 0
	for _, e := range edges {
		if matched[e.a] || matched[e.b] {
			continue
		}

		initiator, recipient := e.a, e.b
		if e.bEnq.Before(e.aEnq) || (e.bEnq.Equal(e.aEnq) && e.b < e.a) {
			initiator, recipient = e.b, e.a
		}

		if _, err := s.partnerships.CreateProposal(ctx, initiator, recipient, e.score.Total); err != nil {
			// Typically a live pair or a cap filled since the snapshot.
			s.logger.Warn().Err(err).
				Str("user_a", string(e.a)).Str("user_b", string(e.b)).
				Msg("proposal not opened")
			continue
		}

		matched[e.a] = true
		matched[e.b] = true
		proposals++
		if err := s.store.MarkAdmitted(ctx, []models.UserID{e.a, e.b}, now); err != nil {
			s.logger.Warn().Err(err).Msg("queue entries not marked admitted")
		}
	}

	unmatched := make([]models.UserID, 0, len(userIDs))
	for _, id := range userIDs {
		if !matched[id] {
			unmatched = append(unmatched, id)
		}
	}
	if len(unmatched) > 0 {
		if err := s.store.MarkConsidered(ctx, unmatched, now); err != nil {
			s.logger.Warn().Err(err).Msg("queue entries not marked considered")
		}
	}

	if proposals > 0 {
		s.logger.Info().Int("proposals", proposals).Int("waiting", len(waiting)).Msg("matching pass complete")
	}
	return proposals, nil
}

// scorePairs computes edges for every bucketed candidate pair at or above
// the threshold. Users are compared only when their timezone offsets are
// within the configured bucket span.
func (s *Service) scorePairs(prefs map[models.UserID]*models.UserPreferences, enqueuedAt map[models.UserID]time.Time, now time.Time) []edge {
	ids := make([]models.UserID, 0, len(prefs))
	for id := range prefs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	offsets := make(map[models.UserID]float64, len(ids))
	for _, id := range ids {
		loc, err := prefs[id].Location()
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", string(id)).Msg("user excluded from pass")
			delete(prefs, id)
			continue
		}
		_, offsetSeconds := now.In(loc).Zone()
		offsets[id] = float64(offsetSeconds) / 3600
	}

	span := float64(s.cfg.BucketHours)
	edges := make([]edge, 0)
	for i := 0; i < len(ids); i++ {
		a, okA := prefs[ids[i]]
		if !okA {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b, okB := prefs[ids[j]]
			if !okB {
				continue
			}
			diff := offsets[a.UserID] - offsets[b.UserID]
			if diff < 0 {
				diff = -diff
			}
			if diff > span {
				continue
			}

			score, err := s.scorer.Score(a, b, now)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("user_a", string(a.UserID)).Str("user_b", string(b.UserID)).
					Msg("pair skipped")
				continue
			}
			if score.BelowThreshold {
				continue
			}
			edges = append(edges, edge{
				a:     a.UserID,
				b:     b.UserID,
				aEnq:  enqueuedAt[a.UserID],
				bEnq:  enqueuedAt[b.UserID],
				score: score,
			})
		}
	}
	return edges
}
