// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package matching

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/tandem/internal/compat"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/partnership"
)

// fixedInstant is a winter instant so DST does not shift offsets.
var fixedInstant = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc          *Service
	partnerships *partnership.Service
	store        *database.DB
}

func (f *fixture) setNow(t time.Time) {
	f.svc.now = func() time.Time { return t }
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	engine, err := compat.New(compat.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("compat.New: %v", err)
	}

	partnerships := partnership.NewService(db, nil, config.PartnershipConfig{
		MaxConcurrent: 3,
		RequestTTL:    72 * time.Hour,
	})

	svc := NewService(db, engine, partnerships, config.MatchingConfig{
		Threshold:        0.6,
		Interval:         time.Minute,
		BucketHours:      6,
		SuggestScanLimit: 200,
	})
	f := &fixture{svc: svc, partnerships: partnerships, store: db}
	f.setNow(fixedInstant)
	return f
}

// seedUser writes preferences that score 1.0 against another unmodified
// seed: same timezone, tags, schedule, and style.
func (f *fixture) seedUser(t *testing.T, id models.UserID, mutate func(*models.UserPreferences)) {
	t.Helper()
	prefs := &models.UserPreferences{
		UserID:   id,
		Timezone: "UTC",
		WorkingHours: models.WeekSchedule{
			time.Monday:    {{StartMinute: 540, EndMinute: 1020}},
			time.Wednesday: {{StartMinute: 540, EndMinute: 1020}},
		},
		Interests:       []string{"writing", "fitness"},
		FocusGoals:      []string{"deep-work"},
		Style:           models.StyleBalanced,
		Experience:      models.LevelIntermediate,
		PersonalityTags: []string{"patient"},
		SessionMinutes:  50,
		MaxPartners:     3,
		Available:       true,
	}
	if mutate != nil {
		mutate(prefs)
	}
	if _, err := f.store.UpsertPreferences(context.Background(), prefs); err != nil {
		t.Fatalf("UpsertPreferences(%s): %v", id, err)
	}
}

// makeStranger turns the seed into a below-threshold candidate while
// staying in the same timezone bucket: disjoint tags, no schedule
// overlap, a weak style pairing. Scores 0.25 + 0.05 + 0.03 = 0.33
// against an unmodified seed.
func makeStranger(prefs *models.UserPreferences) {
	prefs.Interests = []string{"chess"}
	prefs.FocusGoals = []string{"marathon"}
	prefs.WorkingHours = models.WeekSchedule{
		time.Saturday: {{StartMinute: 0, EndMinute: 120}},
	}
	prefs.Style = models.StyleDirect
	prefs.PersonalityTags = []string{"intense"}
}

func TestJoinLeaveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "bob", nil)

	entry, err := f.svc.Join(ctx, "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if entry.Status != models.QueueWaiting {
		t.Errorf("status = %s, want WAITING", entry.Status)
	}

	// Double join is a conflict.
	if _, err := f.svc.Join(ctx, "alice"); !fault.IsKind(err, fault.KindConflict) {
		t.Errorf("double join: got %v, want Conflict", err)
	}

	f.setNow(fixedInstant.Add(time.Minute))
	if _, err := f.svc.Join(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	pos, err := f.svc.Status(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Position != 2 {
		t.Errorf("bob position = %d, want 2", pos.Position)
	}

	if err := f.svc.Leave(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	// Leaving again is a no-op.
	if err := f.svc.Leave(ctx, "alice"); err != nil {
		t.Errorf("second leave: %v", err)
	}
	pos, err = f.svc.Status(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Position != 1 {
		t.Errorf("bob position after alice left = %d, want 1", pos.Position)
	}
}

func TestJoinEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Join(ctx, "ghost"); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("unknown user: got %v, want NotFound", err)
	}

	f.seedUser(t, "alice", func(p *models.UserPreferences) { p.Available = false })
	if _, err := f.svc.Join(ctx, "alice"); !fault.IsKind(err, fault.KindWrongState) {
		t.Errorf("unavailable user: got %v, want WrongState", err)
	}

	// A user at their cap is ineligible.
	f.seedUser(t, "busy", func(p *models.UserPreferences) { p.MaxPartners = 1 })
	f.seedUser(t, "partner", nil)
	p, err := f.partnerships.Request(ctx, "busy", "partner", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.partnerships.Accept(ctx, p.ID, "partner"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Join(ctx, "busy"); !fault.IsKind(err, fault.KindLimitExceeded) {
		t.Errorf("user at cap: got %v, want LimitExceeded", err)
	}
}

func TestSuggestRanksAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedUser(t, "alice", nil)
	// Perfect match, queued.
	f.seedUser(t, "twin", nil)
	// Good but imperfect match, not queued but available.
	f.seedUser(t, "berlin", func(p *models.UserPreferences) { p.Timezone = "Europe/Berlin" })
	// Below threshold, queued.
	f.seedUser(t, "stranger", makeStranger)

	for _, id := range []models.UserID{"twin", "stranger"} {
		if _, err := f.svc.Join(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.svc.Suggest(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("suggestions = %d, want 2 (stranger filtered, self excluded)", len(got))
	}
	if got[0].Candidate != "twin" || got[1].Candidate != "berlin" {
		t.Errorf("order = [%s, %s], want [twin, berlin]", got[0].Candidate, got[1].Candidate)
	}
	if got[0].Score.Total <= got[1].Score.Total {
		t.Errorf("ranking not descending: %v vs %v", got[0].Score.Total, got[1].Score.Total)
	}
}

func TestCompatibilityReturnsBelowThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "stranger", makeStranger)

	score, err := f.svc.Compatibility(ctx, "alice", "stranger")
	if err != nil {
		t.Fatalf("Compatibility: %v", err)
	}
	if !score.BelowThreshold {
		t.Errorf("total %.3f should be marked below threshold", score.Total)
	}
}

func TestMatchingPassPairsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "bob", nil)

	// Alice has been waiting longer; she initiates.
	if _, err := f.svc.Join(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	f.setNow(fixedInstant.Add(time.Minute))
	if _, err := f.svc.Join(ctx, "bob"); err != nil {
		t.Fatal(err)
	}

	proposals, err := f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatalf("RunMatchingPass: %v", err)
	}
	if proposals != 1 {
		t.Fatalf("proposals = %d, want 1", proposals)
	}

	open, err := f.store.ListPartnerships(ctx, "alice", []models.PartnershipStatus{models.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("pending partnerships = %d, want 1", len(open))
	}
	p := open[0]
	if p.Initiator != "alice" {
		t.Errorf("initiator = %s, want alice (longer waiting)", p.Initiator)
	}
	if p.MatchScore < 0.99 {
		t.Errorf("match score = %.3f, want ~1.0", p.MatchScore)
	}

	for _, id := range []models.UserID{"alice", "bob"} {
		entry, err := f.store.GetQueueEntry(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Status != models.QueueAdmitted {
			t.Errorf("%s queue status = %s, want ADMITTED", id, entry.Status)
		}
	}

	// A second pass with no queue change proposes nothing.
	proposals, err = f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if proposals != 0 {
		t.Errorf("second pass proposals = %d, want 0", proposals)
	}
}

func TestMatchingPassSkipsDistantTimezones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Identical except for a 9-hour offset gap, outside the ±6h bucket.
	f.seedUser(t, "london", nil)
	f.seedUser(t, "tokyo", func(p *models.UserPreferences) { p.Timezone = "Asia/Tokyo" })
	for _, id := range []models.UserID{"london", "tokyo"} {
		if _, err := f.svc.Join(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	proposals, err := f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if proposals != 0 {
		t.Errorf("proposals = %d, want 0 (bucket excludes the pair)", proposals)
	}

	// Both entries stay live and are marked considered.
	for _, id := range []models.UserID{"london", "tokyo"} {
		entry, err := f.store.GetQueueEntry(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Status != models.QueueWaiting {
			t.Errorf("%s status = %s, want WAITING", id, entry.Status)
		}
		if entry.LastConsideredAt.IsZero() {
			t.Errorf("%s not marked considered", id)
		}
	}
}

func TestMatchingPassSkipsBelowThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "stranger", makeStranger)
	for _, id := range []models.UserID{"alice", "stranger"} {
		if _, err := f.svc.Join(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	proposals, err := f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if proposals != 0 {
		t.Errorf("proposals = %d, want 0", proposals)
	}
}

func TestMatchingPassLeavesOddUserWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two perfect twins plus one good-but-weaker candidate. The twins
	// pair; the third stays queued for the next pass.
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "bob", nil)
	f.seedUser(t, "carol", func(p *models.UserPreferences) { p.Timezone = "Europe/Berlin" })
	for _, id := range []models.UserID{"alice", "bob", "carol"} {
		if _, err := f.svc.Join(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	proposals, err := f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if proposals != 1 {
		t.Fatalf("proposals = %d, want 1", proposals)
	}

	carol, err := f.store.GetQueueEntry(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if carol.Status != models.QueueWaiting {
		t.Errorf("carol status = %s, want WAITING", carol.Status)
	}

	pending, err := f.store.ListPartnerships(ctx, "carol", []models.PartnershipStatus{models.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("carol has %d pending partnerships, want 0", len(pending))
	}
}

func TestMatchingPassSkipsExistingLivePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)
	f.seedUser(t, "bob", nil)

	// A manual request already links them.
	if _, err := f.partnerships.Request(ctx, "alice", "bob", "hi", 0); err != nil {
		t.Fatal(err)
	}
	for _, id := range []models.UserID{"alice", "bob"} {
		if _, err := f.svc.Join(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	proposals, err := f.svc.RunMatchingPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if proposals != 0 {
		t.Errorf("proposals = %d, want 0 (pair already live)", proposals)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", nil)

	m, err := f.svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.HasWaiting {
		t.Error("empty queue reported waiting entries")
	}

	if _, err := f.svc.Join(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	m, err = f.svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Depth[models.QueueWaiting] != 1 || !m.HasWaiting {
		t.Errorf("metrics = %+v, want one waiting entry", m)
	}
	if !m.OldestWaiting.Equal(fixedInstant) {
		t.Errorf("oldest waiting = %v, want %v", m.OldestWaiting, fixedInstant)
	}
}
