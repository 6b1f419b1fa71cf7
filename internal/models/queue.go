// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import "time"

// QueueStatus is the state of a matching-queue entry.
type QueueStatus string

const (
	QueueWaiting  QueueStatus = "WAITING"
	QueueMatching QueueStatus = "MATCHING"
	QueueAdmitted QueueStatus = "ADMITTED"
	QueueLeft     QueueStatus = "LEFT"
)

// QueueEntry is a user waiting for a partner. At most one live entry exists
// per user; the matching component owns these rows.
type QueueEntry struct {
	UserID           UserID      `json:"user_id"`
	Status           QueueStatus `json:"status"`
	EnqueuedAt       time.Time   `json:"enqueued_at"`
	LastConsideredAt time.Time   `json:"last_considered_at,omitempty"`
}

// QueuePosition is the caller-visible view of a queue entry.
type QueuePosition struct {
	Position   int       `json:"position"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
