// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package partnership

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
)

func newTestService(t *testing.T, users ...models.UserID) *Service {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, id := range users {
		prefs := &models.UserPreferences{
			UserID:         id,
			Timezone:       "UTC",
			Style:          models.StyleBalanced,
			Experience:     models.LevelIntermediate,
			SessionMinutes: 60,
			MaxPartners:    3,
			Available:      true,
		}
		if _, err := db.UpsertPreferences(context.Background(), prefs); err != nil {
			t.Fatalf("seed preferences for %s: %v", id, err)
		}
	}

	return NewService(db, nil, config.PartnershipConfig{
		MaxConcurrent: 3,
		RequestTTL:    72 * time.Hour,
	})
}

func setCap(t *testing.T, s *Service, user models.UserID, maxPartners int) {
	t.Helper()
	prefs, err := s.store.GetPreferences(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	prefs.MaxPartners = maxPartners
	if _, err := s.store.UpsertPreferences(context.Background(), prefs); err != nil {
		t.Fatal(err)
	}
}

func TestRequestHappyPath(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "bob", "alice", "let's keep each other honest", 30)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if p.Status != models.StatusPending {
		t.Errorf("status = %s, want PENDING", p.Status)
	}
	if p.UserA != "alice" || p.UserB != "bob" {
		t.Errorf("pair not canonically ordered: %s/%s", p.UserA, p.UserB)
	}
	if p.Initiator != "bob" || p.Recipient() != "alice" {
		t.Errorf("initiator = %s, recipient = %s", p.Initiator, p.Recipient())
	}
}

func TestRequestRejections(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if _, err := s.Request(ctx, "alice", "alice", "", 0); fault.KindOf(err) != fault.KindInvalid {
		t.Errorf("self pair: kind = %v, want invalid", fault.KindOf(err))
	}

	if _, err := s.Request(ctx, "alice", "ghost", "", 0); fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("unknown recipient: kind = %v, want not_found", fault.KindOf(err))
	}

	if _, err := s.Request(ctx, "alice", "bob", "", 0); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := s.Request(ctx, "bob", "alice", "", 0); fault.KindOf(err) != fault.KindConflict {
		t.Errorf("duplicate live pair: kind = %v, want conflict", fault.KindOf(err))
	}
}

func TestRequestAtCap(t *testing.T) {
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()
	setCap(t, s, "alice", 1)

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	// Alice now holds her single slot.
	if _, err := s.Request(ctx, "alice", "carol", "", 0); fault.KindOf(err) != fault.KindLimitExceeded {
		t.Errorf("at cap: kind = %v, want limit_exceeded", fault.KindOf(err))
	}
}

func TestAcceptOnlyRecipient(t *testing.T) {
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Accept(ctx, p.ID, "alice"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("initiator accepting: kind = %v, want forbidden", fault.KindOf(err))
	}
	if _, err := s.Accept(ctx, p.ID, "carol"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("outsider accepting: kind = %v, want forbidden", fault.KindOf(err))
	}

	accepted, err := s.Accept(ctx, p.ID, "bob")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != models.StatusActive || accepted.RespondedAt == nil {
		t.Errorf("accepted = %+v", accepted)
	}

	// Accepting twice is a wrong-state error, never a silent no-op.
	if _, err := s.Accept(ctx, p.ID, "bob"); fault.KindOf(err) != fault.KindWrongState {
		t.Errorf("double accept: kind = %v, want wrong_state", fault.KindOf(err))
	}
}

func TestAcceptRechecksCaps(t *testing.T) {
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()
	setCap(t, s, "bob", 1)

	pending, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Bob fills his only slot with carol before responding to alice.
	other, err := s.Request(ctx, "carol", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, other.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Accept(ctx, pending.ID, "bob"); fault.KindOf(err) != fault.KindLimitExceeded {
		t.Errorf("accept over cap: kind = %v, want limit_exceeded", fault.KindOf(err))
	}

	// The pending request is untouched and can still be rejected.
	p, err := s.Reject(ctx, pending.ID, "bob", "over capacity")
	if err != nil {
		t.Fatalf("Reject after failed accept: %v", err)
	}
	if p.Status != models.StatusRejected {
		t.Errorf("status = %s, want REJECTED", p.Status)
	}
}

func TestCancelOnlyInitiator(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Cancel(ctx, p.ID, "bob"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("recipient cancelling: kind = %v, want forbidden", fault.KindOf(err))
	}

	cancelled, err := s.Cancel(ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.StatusExpired || cancelled.EndReason != models.EndReasonCancelled {
		t.Errorf("cancelled = %+v", cancelled)
	}
}

func TestPauseResumeAccumulatesPausedTime(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if _, err := s.Pause(ctx, p.ID, "alice"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	resumed, err := s.Resume(ctx, p.ID, "bob")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != models.StatusActive {
		t.Errorf("status = %s, want ACTIVE", resumed.Status)
	}
	if resumed.PausedTotal != 2*time.Hour {
		t.Errorf("paused total = %v, want 2h", resumed.PausedTotal)
	}
	if resumed.PausedAt != nil {
		t.Error("paused_at should clear on resume")
	}
}

func TestEndWithRating(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	rating := 4
	ended, err := s.End(ctx, p.ID, "alice", models.EndReasonCompleted, &rating)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != models.StatusEnded || ended.EndReason != models.EndReasonCompleted {
		t.Errorf("ended = %+v", ended)
	}

	ratings, err := s.store.ListRatings(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ratings) != 1 || ratings[0].Rating != 4 || ratings[0].RaterID != "alice" {
		t.Errorf("ratings = %v", ratings)
	}

	bad := 6
	if _, err := s.End(ctx, p.ID, "bob", "", &bad); fault.KindOf(err) != fault.KindInvalid {
		t.Errorf("rating 6: kind = %v, want invalid", fault.KindOf(err))
	}
}

func TestEndFromPausedAccumulatesPausedTime(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if _, err := s.Pause(ctx, p.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	ended, err := s.End(ctx, p.ID, "bob", "", nil)
	if err != nil {
		t.Fatalf("End from PAUSED: %v", err)
	}
	if ended.PausedTotal != time.Hour {
		t.Errorf("paused total = %v, want 1h", ended.PausedTotal)
	}
	if ended.EndReason != models.EndReasonUser {
		t.Errorf("default end reason = %s, want USER_ENDED", ended.EndReason)
	}
}

func TestIllegalTransitions(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Pause and end require the live set beyond PENDING.
	if _, err := s.Pause(ctx, p.ID, "alice"); fault.KindOf(err) != fault.KindWrongState {
		t.Errorf("pause PENDING: kind = %v, want wrong_state", fault.KindOf(err))
	}
	if _, err := s.End(ctx, p.ID, "alice", "", nil); fault.KindOf(err) != fault.KindWrongState {
		t.Errorf("end PENDING: kind = %v, want wrong_state", fault.KindOf(err))
	}

	if _, err := s.Reject(ctx, p.ID, "bob", ""); err != nil {
		t.Fatal(err)
	}
	// REJECTED is terminal.
	if _, err := s.Accept(ctx, p.ID, "bob"); fault.KindOf(err) != fault.KindWrongState {
		t.Errorf("accept REJECTED: kind = %v, want wrong_state", fault.KindOf(err))
	}
}

func TestExpireStalePending(t *testing.T) {
	s := newTestService(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	base := time.Now().UTC()

	s.now = func() time.Time { return base.Add(-73 * time.Hour) }
	stale, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base }
	fresh, err := s.Request(ctx, "carol", "dave", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	expired, err := s.ExpireStalePending(ctx)
	if err != nil {
		t.Fatalf("ExpireStalePending: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}

	got, err := s.store.GetPartnership(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusExpired || got.EndReason != models.EndReasonExpired {
		t.Errorf("stale = %+v", got)
	}

	still, err := s.store.GetPartnership(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if still.Status != models.StatusPending {
		t.Errorf("fresh request should stay PENDING, got %s", still.Status)
	}

	// A second run is a no-op.
	expired, err = s.ExpireStalePending(ctx)
	if err != nil || expired != 0 {
		t.Errorf("second run expired = %d, err = %v", expired, err)
	}
}

func TestGetRequiresParticipant(t *testing.T) {
	s := newTestService(t, "alice", "bob", "eve")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, p.ID, "eve"); fault.KindOf(err) != fault.KindForbidden {
		t.Errorf("outsider view: kind = %v, want forbidden", fault.KindOf(err))
	}
	if _, err := s.Get(ctx, p.ID, "alice"); err != nil {
		t.Errorf("member view: %v", err)
	}
	if _, err := s.Get(ctx, uuid.New(), "alice"); fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("missing id: kind = %v, want not_found", fault.KindOf(err))
	}
}

func TestCountersRequireActive(t *testing.T) {
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.Request(ctx, "alice", "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.RecordSession(ctx, p.ID, "alice"); fault.KindOf(err) != fault.KindWrongState {
		t.Errorf("session on PENDING: kind = %v, want wrong_state", fault.KindOf(err))
	}

	if _, err := s.Accept(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	bumped, err := s.RecordGoalCompleted(ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("RecordGoalCompleted: %v", err)
	}
	if bumped.TotalGoalsCompleted != 1 {
		t.Errorf("goals = %d, want 1", bumped.TotalGoalsCompleted)
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to models.PartnershipStatus }{
		{models.StatusPending, models.StatusActive},
		{models.StatusPending, models.StatusRejected},
		{models.StatusPending, models.StatusExpired},
		{models.StatusActive, models.StatusPaused},
		{models.StatusActive, models.StatusEnded},
		{models.StatusPaused, models.StatusActive},
		{models.StatusPaused, models.StatusEnded},
	}
	for _, tt := range legal {
		if !canTransition(tt.from, tt.to) {
			t.Errorf("%s→%s should be legal", tt.from, tt.to)
		}
	}

	illegal := []struct{ from, to models.PartnershipStatus }{
		{models.StatusPending, models.StatusPaused},
		{models.StatusActive, models.StatusRejected},
		{models.StatusRejected, models.StatusActive},
		{models.StatusExpired, models.StatusActive},
		{models.StatusEnded, models.StatusActive},
		{models.StatusEnded, models.StatusPaused},
	}
	for _, tt := range illegal {
		if canTransition(tt.from, tt.to) {
			t.Errorf("%s→%s should be illegal", tt.from, tt.to)
		}
	}
}
