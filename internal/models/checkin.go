// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckInKind distinguishes the two check-in cadences.
type CheckInKind string

const (
	CheckInDaily  CheckInKind = "DAILY"
	CheckInWeekly CheckInKind = "WEEKLY"
)

// MaxCheckInNotes caps the free-text notes field at 2 KB.
const MaxCheckInNotes = 2048

// CheckIn is an append-only accountability event recorded by one member of
// an ACTIVE partnership.
type CheckIn struct {
	ID            uuid.UUID   `json:"id"`
	PartnershipID uuid.UUID   `json:"partnership_id"`
	Author        UserID      `json:"author"`
	Kind          CheckInKind `json:"kind"`

	Mood         int    `json:"mood" validate:"min=1,max=10"`
	Energy       int    `json:"energy" validate:"min=1,max=10"`
	Productivity int    `json:"productivity" validate:"min=1,max=10"`
	Stress       int    `json:"stress" validate:"min=1,max=10"`
	Notes        string `json:"notes,omitempty" validate:"max=2048"`

	// LocalDate is the author-local civil date (YYYY-MM-DD) for DAILY
	// check-ins; ISOWeek is the author-local ISO week (YYYY-Www) for WEEKLY
	// ones. Each doubles as the per-slot dedupe key.
	LocalDate string `json:"local_date,omitempty"`
	ISOWeek   string `json:"iso_week,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StreakState is the derived daily-streak record for one member of a
// partnership, updated atomically with each DAILY check-in write.
type StreakState struct {
	PartnershipID uuid.UUID `json:"partnership_id"`
	UserID        UserID    `json:"user_id"`
	Current       int       `json:"current"`
	Longest       int       `json:"longest"`
	// LastCheckInDate is the author-local civil date (YYYY-MM-DD) of the
	// most recent DAILY check-in; empty before the first one.
	LastCheckInDate string    `json:"last_check_in_date,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CheckInPayload is the caller-supplied body of a check-in submission.
type CheckInPayload struct {
	Mood         int    `json:"mood" validate:"min=1,max=10"`
	Energy       int    `json:"energy" validate:"min=1,max=10"`
	Productivity int    `json:"productivity" validate:"min=1,max=10"`
	Stress       int    `json:"stress" validate:"min=1,max=10"`
	Notes        string `json:"notes,omitempty" validate:"max=2048"`
}
