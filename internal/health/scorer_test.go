// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package health

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/tomtom215/tandem/internal/checkin"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/events"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
)

type fixture struct {
	svc      *Service
	checkins *checkin.Service
	store    *database.DB
	p        *models.Partnership
}

// setNow pins the scorer clock. The check-in service keeps the real
// clock; these tests record no check-ins, so accountability is always
// zero regardless of its window.
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

	ctx := context.Background()
	for _, userID := range []models.UserID{"alice", "bob"} {
		prefs := &models.UserPreferences{
			UserID:         userID,
			Timezone:       "UTC",
			Interests:      []string{"writing"},
			Style:          models.StyleBalanced,
			Experience:     models.LevelIntermediate,
			SessionMinutes: 50,
			MaxPartners:    3,
			Available:      true,
		}
		if _, err := db.UpsertPreferences(ctx, prefs); err != nil {
			t.Fatalf("UpsertPreferences(%s): %v", userID, err)
		}
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &models.Partnership{
		ID:             uuid.New(),
		UserA:          "alice",
		UserB:          "bob",
		Initiator:      "alice",
		Status:         models.StatusActive,
		CreatedAt:      base,
		LastActivityAt: base,
	}
	if err := db.CreatePartnership(ctx, p, 3, 3); err != nil {
		t.Fatalf("CreatePartnership: %v", err)
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	notifier := events.NewNotifier(db, pubsub, "partnership.events", 0)
	t.Cleanup(func() { _ = notifier.Close() })

	checkins := checkin.NewService(db, nil, nil, config.StreakConfig{AccountabilityWindowDays: 28})
	svc := NewService(db, checkins, notifier, config.HealthConfig{
		RecomputeInterval: 15 * time.Minute,
		Staleness:         time.Hour,
		RiskThreshold:     40,
	})
	return &fixture{svc: svc, checkins: checkins, store: db, p: p}
}

func approx(t *testing.T, got, want, tolerance float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("got %.4f, want %.4f (±%.4f)", got, want, tolerance)
	}
}

func TestScoreComponents(t *testing.T) {
	tests := []struct {
		name   string
		days   float64
		accA   int
		accB   int
		streak int
		want   float64
	}{
		{"fresh and perfect", 0, 100, 100, 14, 100},
		{"completely idle", 30, 0, 0, 0, 25},          // only balance survives
		{"recency floors at zero", 100, 0, 0, 0, 25},  // same as 30 days
		{"streak saturates", 0, 100, 100, 50, 100},    // streak capped at target
		{"at-risk band entry", 10, 30, 20, 0, 38.928}, // 40*(4/14) + 25*0.9 + 20*0.25
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approx(t, score(tt.days, tt.accA, tt.accB, tt.streak), tt.want, 0.01)
		})
	}
}

func TestRecomputePersistsHealth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Ten days idle, zero accountability.
	f.setNow(f.p.LastActivityAt.Add(10 * 24 * time.Hour))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	p, err := f.store.GetPartnership(ctx, f.p.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 40*(4/14) + 25*1 + 0 + 0.
	approx(t, p.Health, 40*(4.0/14)+25, 0.01)
	if p.HealthUpdatedAt.IsZero() {
		t.Error("HealthUpdatedAt not set")
	}
}

func TestRecomputeThrottledByStaleness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.p.LastActivityAt.Add(24 * time.Hour)
	f.setNow(now)
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}
	first, err := f.store.GetPartnership(ctx, f.p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Thirty minutes later the stored score is still fresh.
	f.setNow(now.Add(30 * time.Minute))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}
	second, err := f.store.GetPartnership(ctx, f.p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.HealthUpdatedAt.Equal(first.HealthUpdatedAt) {
		t.Errorf("health rewritten inside staleness window: %v vs %v",
			second.HealthUpdatedAt, first.HealthUpdatedAt)
	}

	// Past the window it refreshes.
	f.setNow(now.Add(2 * time.Hour))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}
	third, err := f.store.GetPartnership(ctx, f.p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if third.HealthUpdatedAt.Equal(first.HealthUpdatedAt) {
		t.Error("health not refreshed after staleness window")
	}
}

func TestHealthAtRiskEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Ten days idle with zero accountability lands below 40 (≈36.4).
	f.setNow(f.p.LastActivityAt.Add(10 * 24 * time.Hour))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}

	countAtRisk := func() int {
		t.Helper()
		pending, err := f.store.ListUndelivered(ctx, 100)
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for _, row := range pending {
			if row.EventType == "HealthAtRisk" {
				n++
			}
		}
		return n
	}
	if got := countAtRisk(); got != 1 {
		t.Fatalf("HealthAtRisk events = %d, want 1", got)
	}

	// Still at risk two hours later; no second event while in the band.
	f.setNow(f.p.LastActivityAt.Add(10*24*time.Hour + 2*time.Hour))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}
	if got := countAtRisk(); got != 1 {
		t.Fatalf("HealthAtRisk events after second recompute = %d, want 1", got)
	}

	// Recovery: fresh activity lifts the score out of the band.
	p, err := f.store.GetPartnership(ctx, f.p.ID)
	if err != nil {
		t.Fatal(err)
	}
	recovery := f.p.LastActivityAt.Add(10*24*time.Hour + 4*time.Hour)
	p.LastActivityAt = recovery
	if err := f.store.UpdatePartnership(ctx, p); err != nil {
		t.Fatal(err)
	}
	f.setNow(recovery.Add(time.Minute))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}

	// Dropping back in fires exactly one more event.
	f.setNow(recovery.Add(10 * 24 * time.Hour))
	if err := f.svc.Recompute(ctx, f.p.ID); err != nil {
		t.Fatal(err)
	}
	if got := countAtRisk(); got != 2 {
		t.Fatalf("HealthAtRisk events after re-entry = %d, want 2", got)
	}

	// The band transitions are durable.
	transitions, err := f.store.ListHealthEvents(ctx, f.p.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != 3 {
		t.Errorf("recorded transitions = %d, want 3 (risk, recovery, risk)", len(transitions))
	}
}

func TestRecomputeRequiresCountedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p.Status = models.StatusEnded
	if err := f.store.UpdatePartnership(ctx, f.p); err != nil {
		t.Fatal(err)
	}

	f.setNow(f.p.LastActivityAt.Add(2 * time.Hour))
	err := f.svc.Recompute(ctx, f.p.ID)
	if !fault.IsKind(err, fault.KindWrongState) {
		t.Fatalf("got %v, want WrongState", err)
	}
}

func TestRecomputeStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setNow(f.p.LastActivityAt.Add(2 * time.Hour))
	recomputed, err := f.svc.RecomputeStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != 1 {
		t.Errorf("recomputed = %d, want 1", recomputed)
	}

	// Immediately after, nothing is stale.
	recomputed, err = f.svc.RecomputeStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != 0 {
		t.Errorf("second pass recomputed = %d, want 0", recomputed)
	}
}
