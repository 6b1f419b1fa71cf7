// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
)

// InsertCheckIn appends a check-in and, for DAILY check-ins, updates the
// author's streak state in the same transaction. The per-slot UNIQUE
// constraint rejects duplicates with a Conflict fault.
func (db *DB) InsertCheckIn(ctx context.Context, c *models.CheckIn, streak *models.StreakState) error {
	slotKey := c.LocalDate
	if c.Kind == models.CheckInWeekly {
		slotKey = c.ISOWeek
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO check_ins (id, partnership_id, author, kind, mood, energy, productivity,
			 stress, notes, local_date, iso_week, slot_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.PartnershipID.String(), string(c.Author), string(c.Kind),
			c.Mood, c.Energy, c.Productivity, c.Stress, c.Notes,
			c.LocalDate, c.ISOWeek, slotKey, c.CreatedAt)
		if err != nil {
			if isConstraintError(err) {
				return fault.New(fault.KindConflict, "check-in for slot %s already recorded", slotKey)
			}
			return fmt.Errorf("failed to insert check-in: %w", err)
		}

		if streak == nil {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO streak_state (partnership_id, user_id, current, longest, last_check_in_date, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (partnership_id, user_id) DO UPDATE SET
			   current = excluded.current,
			   longest = excluded.longest,
			   last_check_in_date = excluded.last_check_in_date,
			   updated_at = excluded.updated_at`,
			streak.PartnershipID.String(), string(streak.UserID),
			streak.Current, streak.Longest, streak.LastCheckInDate, streak.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update streak state: %w", err)
		}
		return nil
	})
}

// ListCheckIns retrieves a partnership's check-ins within a time range,
// newest first, bounded by limit.
func (db *DB) ListCheckIns(ctx context.Context, partnershipID uuid.UUID, from, to time.Time, limit int) ([]models.CheckIn, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, partnership_id, author, kind, mood, energy, productivity, stress,
		 notes, local_date, iso_week, created_at
		 FROM check_ins
		 WHERE partnership_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		partnershipID.String(), from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	out := make([]models.CheckIn, 0)
	for rows.Next() {
		var (
			c              models.CheckIn
			id, pid        string
			author, kind   string
		)
		err := rows.Scan(&id, &pid, &author, &kind, &c.Mood, &c.Energy, &c.Productivity,
			&c.Stress, &c.Notes, &c.LocalDate, &c.ISOWeek, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		c.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt check-in id %q: %w", id, err)
		}
		c.PartnershipID, err = uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("corrupt check-in partnership id %q: %w", pid, err)
		}
		c.Author = models.UserID(author)
		c.Kind = models.CheckInKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-ins: %w", err)
	}
	return out, nil
}

// CountSlotHits counts distinct filled slots (local dates or ISO weeks)
// for one member since the window start. Feeds the accountability score.
func (db *DB) CountSlotHits(ctx context.Context, partnershipID uuid.UUID, userID models.UserID, kind models.CheckInKind, since time.Time) (int, error) {
	var hits int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT slot_key) FROM check_ins
		 WHERE partnership_id = ? AND author = ? AND kind = ? AND created_at >= ?`,
		partnershipID.String(), string(userID), string(kind), since.UTC()).Scan(&hits)
	if err != nil {
		return 0, fmt.Errorf("failed to count check-in slots: %w", err)
	}
	return hits, nil
}

// GetStreakState retrieves a member's streak. A member with no DAILY
// check-ins yet gets the zero state, not an error.
func (db *DB) GetStreakState(ctx context.Context, partnershipID uuid.UUID, userID models.UserID) (*models.StreakState, error) {
	state := &models.StreakState{PartnershipID: partnershipID, UserID: userID}
	var pid, uid string
	err := db.conn.QueryRowContext(ctx,
		`SELECT partnership_id, user_id, current, longest, last_check_in_date, updated_at
		 FROM streak_state WHERE partnership_id = ? AND user_id = ?`,
		partnershipID.String(), string(userID)).Scan(
		&pid, &uid, &state.Current, &state.Longest, &state.LastCheckInDate, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak state: %w", err)
	}
	return state, nil
}

// UpsertStreakState writes a streak row outside a check-in transaction.
// Used by the streak-decay job.
func (db *DB) UpsertStreakState(ctx context.Context, streak *models.StreakState) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO streak_state (partnership_id, user_id, current, longest, last_check_in_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (partnership_id, user_id) DO UPDATE SET
		   current = excluded.current,
		   longest = excluded.longest,
		   last_check_in_date = excluded.last_check_in_date,
		   updated_at = excluded.updated_at`,
		streak.PartnershipID.String(), string(streak.UserID),
		streak.Current, streak.Longest, streak.LastCheckInDate, streak.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert streak state: %w", err)
	}
	return nil
}

// ListStreakStates retrieves both members' streak rows for a partnership.
func (db *DB) ListStreakStates(ctx context.Context, partnershipID uuid.UUID) ([]models.StreakState, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT partnership_id, user_id, current, longest, last_check_in_date, updated_at
		 FROM streak_state WHERE partnership_id = ?`, partnershipID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list streak states: %w", err)
	}
	defer rows.Close()

	out := make([]models.StreakState, 0, 2)
	for rows.Next() {
		var (
			s        models.StreakState
			pid, uid string
		)
		if err := rows.Scan(&pid, &uid, &s.Current, &s.Longest, &s.LastCheckInDate, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan streak state: %w", err)
		}
		s.PartnershipID, err = uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("corrupt streak partnership id %q: %w", pid, err)
		}
		s.UserID = models.UserID(uid)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streak states: %w", err)
	}
	return out, nil
}
