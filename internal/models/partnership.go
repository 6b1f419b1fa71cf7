// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"time"

	"github.com/google/uuid"
)

// PartnershipStatus is the lifecycle state of a partnership.
type PartnershipStatus string

const (
	StatusPending  PartnershipStatus = "PENDING"
	StatusActive   PartnershipStatus = "ACTIVE"
	StatusPaused   PartnershipStatus = "PAUSED"
	StatusRejected PartnershipStatus = "REJECTED"
	StatusExpired  PartnershipStatus = "EXPIRED"
	StatusEnded    PartnershipStatus = "ENDED"
)

// Live reports whether the status counts toward pair uniqueness
// (PENDING, ACTIVE, PAUSED).
func (s PartnershipStatus) Live() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused:
		return true
	default:
		return false
	}
}

// Counted reports whether the status counts toward maxConcurrentPartners
// (ACTIVE and PAUSED; a PENDING request does not hold a slot).
func (s PartnershipStatus) Counted() bool {
	return s == StatusActive || s == StatusPaused
}

// EndReason records why a partnership left the live set.
type EndReason string

const (
	EndReasonCompleted EndReason = "COMPLETED"
	EndReasonCancelled EndReason = "CANCELLED"
	EndReasonExpired   EndReason = "EXPIRED"
	EndReasonRejected  EndReason = "REJECTED"
	EndReasonUser      EndReason = "USER_ENDED"
)

// Partnership is the authoritative record of a pairing between two users.
// UserA and UserB are stored in lexicographic order so the unordered pair
// has a single canonical row.
type Partnership struct {
	ID        uuid.UUID         `json:"id"`
	UserA     UserID            `json:"user_a"`
	UserB     UserID            `json:"user_b"`
	Initiator UserID            `json:"initiator"`
	Status    PartnershipStatus `json:"status"`
	Message   string            `json:"message,omitempty"`

	MatchScore   float64 `json:"match_score"`
	DurationDays int     `json:"duration_days,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   EndReason  `json:"end_reason,omitempty"`

	// PausedTotal accumulates time spent paused across pause/resume cycles.
	PausedTotal time.Duration `json:"paused_total,omitempty"`

	TotalSessions       int `json:"total_sessions"`
	TotalGoalsCompleted int `json:"total_goals_completed"`
	CurrentStreak       int `json:"current_streak"`

	LastActivityAt  time.Time `json:"last_activity_at"`
	Health          float64   `json:"health"`
	HealthUpdatedAt time.Time `json:"health_updated_at"`
}

// OrderPair returns the two user ids in canonical (lexicographic) order.
func OrderPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}

// Participant reports whether the user is one of the partnership's members.
func (p *Partnership) Participant(u UserID) bool {
	return u == p.UserA || u == p.UserB
}

// Other returns the counterpart of the given participant. Callers must
// check Participant first.
func (p *Partnership) Other(u UserID) UserID {
	if u == p.UserA {
		return p.UserB
	}
	return p.UserA
}

// Recipient returns the non-initiating member, the only user allowed to
// accept or reject a pending request.
func (p *Partnership) Recipient() UserID {
	return p.Other(p.Initiator)
}

// PartnershipRating is an optional 1..5 rating recorded by a member when
// ending a partnership.
type PartnershipRating struct {
	PartnershipID uuid.UUID `json:"partnership_id"`
	RaterID       UserID    `json:"rater_id"`
	Rating        int       `json:"rating" validate:"min=1,max=5"`
	CreatedAt     time.Time `json:"created_at"`
}
