// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package events defines the outbound notification events and the
// Notifier that delivers them. Events are written durably to the outbox
// table in the same store as the state change that caused them, then
// drained to the message bus. Delivery is at-least-once; consumers must
// be idempotent.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tandem/internal/models"
)

// Event is an outbound notification. The type name is stable and part of
// the wire contract.
type Event interface {
	EventType() string
}

// MatchProposed fires when a matching pass opens a PENDING partnership.
type MatchProposed struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	UserA         models.UserID `json:"user_a"`
	UserB         models.UserID `json:"user_b"`
	Initiator     models.UserID `json:"initiator"`
	Score         float64       `json:"score"`
	ProposedAt    time.Time     `json:"proposed_at"`
}

func (MatchProposed) EventType() string { return "MatchProposed" }

// PartnershipAccepted fires when the recipient accepts a pending request.
type PartnershipAccepted struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	Actor         models.UserID `json:"actor"`
	AcceptedAt    time.Time     `json:"accepted_at"`
}

func (PartnershipAccepted) EventType() string { return "PartnershipAccepted" }

// PartnershipRejected fires when the recipient rejects a pending request.
type PartnershipRejected struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	Actor         models.UserID `json:"actor"`
	Reason        string        `json:"reason,omitempty"`
	RejectedAt    time.Time     `json:"rejected_at"`
}

func (PartnershipRejected) EventType() string { return "PartnershipRejected" }

// PartnershipExpired fires when a pending request outlives the request TTL
// or the initiator cancels it.
type PartnershipExpired struct {
	PartnershipID uuid.UUID `json:"partnership_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

func (PartnershipExpired) EventType() string { return "PartnershipExpired" }

// PartnershipPaused fires when either member pauses an active partnership.
type PartnershipPaused struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	Actor         models.UserID `json:"actor"`
	PausedAt      time.Time     `json:"paused_at"`
}

func (PartnershipPaused) EventType() string { return "PartnershipPaused" }

// PartnershipResumed fires when either member resumes a paused partnership.
type PartnershipResumed struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	Actor         models.UserID `json:"actor"`
	ResumedAt     time.Time     `json:"resumed_at"`
}

func (PartnershipResumed) EventType() string { return "PartnershipResumed" }

// PartnershipEnded fires when either member ends a partnership.
type PartnershipEnded struct {
	PartnershipID uuid.UUID        `json:"partnership_id"`
	Actor         models.UserID    `json:"actor"`
	Reason        models.EndReason `json:"reason"`
	EndedAt       time.Time        `json:"ended_at"`
}

func (PartnershipEnded) EventType() string { return "PartnershipEnded" }

// CheckInRecorded fires on every accepted check-in write.
type CheckInRecorded struct {
	PartnershipID uuid.UUID          `json:"partnership_id"`
	Author        models.UserID      `json:"author"`
	Kind          models.CheckInKind `json:"kind"`
	Slot          string             `json:"slot"`
	RecordedAt    time.Time          `json:"recorded_at"`
}

func (CheckInRecorded) EventType() string { return "CheckInRecorded" }

// StreakMilestone fires when a member's daily streak reaches a milestone
// length (7, 14, 30, 60, 100 days).
type StreakMilestone struct {
	PartnershipID uuid.UUID     `json:"partnership_id"`
	UserID        models.UserID `json:"user_id"`
	Days          int           `json:"days"`
	ReachedAt     time.Time     `json:"reached_at"`
}

func (StreakMilestone) EventType() string { return "StreakMilestone" }

// HealthAtRisk fires once per entry into the at-risk health band
// (edge-triggered, not level).
type HealthAtRisk struct {
	PartnershipID uuid.UUID `json:"partnership_id"`
	Health        float64   `json:"health"`
	DetectedAt    time.Time `json:"detected_at"`
}

func (HealthAtRisk) EventType() string { return "HealthAtRisk" }

// StreakMilestones are the streak lengths that produce a StreakMilestone
// event, checked on each increment.
var StreakMilestones = []int{7, 14, 30, 60, 100}

// IsStreakMilestone reports whether the streak length is a milestone.
func IsStreakMilestone(days int) bool {
	for _, m := range StreakMilestones {
		if days == m {
			return true
		}
	}
	return false
}
