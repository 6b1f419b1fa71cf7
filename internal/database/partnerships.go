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

const partnershipColumns = `id, user_a, user_b, initiator, status, message, match_score,
	duration_days, created_at, responded_at, paused_at, ended_at, end_reason,
	paused_total_seconds, total_sessions, total_goals_completed, current_streak,
	last_activity_at, health, health_updated_at`

// CreatePartnership inserts a PENDING partnership, enforcing pair
// uniqueness over the live set and both users' concurrent caps inside one
// transaction. The caller resolves each side's cap from preferences.
func (db *DB) CreatePartnership(ctx context.Context, p *models.Partnership, capA, capB int) error {
	db.partnershipMu.Lock()
	defer db.partnershipMu.Unlock()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var livePairs int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM partnerships
			 WHERE user_a = ? AND user_b = ? AND status IN ('PENDING', 'ACTIVE', 'PAUSED')`,
			string(p.UserA), string(p.UserB)).Scan(&livePairs)
		if err != nil {
			return fmt.Errorf("failed to check live pair: %w", err)
		}
		if livePairs > 0 {
			return fault.New(fault.KindConflict, "live partnership already exists between %s and %s", p.UserA, p.UserB)
		}

		if err := checkCap(ctx, tx, p.UserA, capA, uuid.Nil); err != nil {
			return err
		}
		if err := checkCap(ctx, tx, p.UserB, capB, uuid.Nil); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO partnerships (`+partnershipColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID.String(), string(p.UserA), string(p.UserB), string(p.Initiator), string(p.Status),
			p.Message, p.MatchScore, p.DurationDays, p.CreatedAt,
			nullTime(p.RespondedAt), nullTime(p.PausedAt), nullTime(p.EndedAt), string(p.EndReason),
			int64(p.PausedTotal.Seconds()), p.TotalSessions, p.TotalGoalsCompleted, p.CurrentStreak,
			p.LastActivityAt, p.Health, p.HealthUpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert partnership: %w", err)
		}
		return nil
	})
}

// checkCap rejects when the user already holds cap ACTIVE|PAUSED
// partnerships, excluding the one being transitioned.
func checkCap(ctx context.Context, tx *sql.Tx, userID models.UserID, limit int, exclude uuid.UUID) error {
	var counted int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partnerships
		 WHERE (user_a = ? OR user_b = ?) AND status IN ('ACTIVE', 'PAUSED') AND id <> ?`,
		string(userID), string(userID), exclude.String()).Scan(&counted)
	if err != nil {
		return fmt.Errorf("failed to count partnerships for %s: %w", userID, err)
	}
	if counted >= limit {
		return fault.New(fault.KindLimitExceeded, "user %s is at the concurrent partner cap (%d)", userID, limit)
	}
	return nil
}

// UpdatePartnership writes all mutable fields of a partnership under the
// store-level transition lock. Callers load, mutate, and save; transitions
// stay serialized per process.
func (db *DB) UpdatePartnership(ctx context.Context, p *models.Partnership) error {
	db.partnershipMu.Lock()
	defer db.partnershipMu.Unlock()
	return db.savePartnership(ctx, db.conn, p)
}

// ActivatePartnership transitions a partnership to ACTIVE, re-checking
// both users' concurrent caps atomically; a PENDING request does not hold
// a slot, so the cap can fill between request and accept.
func (db *DB) ActivatePartnership(ctx context.Context, p *models.Partnership, capA, capB int) error {
	db.partnershipMu.Lock()
	defer db.partnershipMu.Unlock()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkCap(ctx, tx, p.UserA, capA, p.ID); err != nil {
			return err
		}
		if err := checkCap(ctx, tx, p.UserB, capB, p.ID); err != nil {
			return err
		}
		return db.savePartnership(ctx, tx, p)
	})
}

// execer abstracts *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) savePartnership(ctx context.Context, ex execer, p *models.Partnership) error {
	result, err := ex.ExecContext(ctx,
		`UPDATE partnerships SET status = ?, message = ?, responded_at = ?, paused_at = ?,
		 ended_at = ?, end_reason = ?, paused_total_seconds = ?, total_sessions = ?,
		 total_goals_completed = ?, current_streak = ?, last_activity_at = ?,
		 health = ?, health_updated_at = ?
		 WHERE id = ?`,
		string(p.Status), p.Message, nullTime(p.RespondedAt), nullTime(p.PausedAt),
		nullTime(p.EndedAt), string(p.EndReason), int64(p.PausedTotal.Seconds()), p.TotalSessions,
		p.TotalGoalsCompleted, p.CurrentStreak, p.LastActivityAt,
		p.Health, p.HealthUpdatedAt,
		p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update partnership: %w", err)
	}
	return requireRow(result, "partnership %s not found", p.ID)
}

// GetPartnership retrieves a partnership by id.
func (db *DB) GetPartnership(ctx context.Context, id uuid.UUID) (*models.Partnership, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+partnershipColumns+` FROM partnerships WHERE id = ?`, id.String())
	p, err := scanPartnership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "partnership %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get partnership: %w", err)
	}
	return p, nil
}

// ListPartnerships retrieves a user's partnerships, optionally filtered by
// status, newest first.
func (db *DB) ListPartnerships(ctx context.Context, userID models.UserID, statuses []models.PartnershipStatus) ([]models.Partnership, error) {
	query := `SELECT ` + partnershipColumns + ` FROM partnerships WHERE (user_a = ? OR user_b = ?)`
	args := []any{string(userID), string(userID)}
	if len(statuses) > 0 {
		query += ` AND status IN (`
		for i, s := range statuses {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, string(s))
		}
		query += ")"
	}
	query += ` ORDER BY created_at DESC`

	return db.queryPartnerships(ctx, query, args...)
}

// CountCounted returns the user's ACTIVE|PAUSED partnership count.
func (db *DB) CountCounted(ctx context.Context, userID models.UserID) (int, error) {
	var counted int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partnerships
		 WHERE (user_a = ? OR user_b = ?) AND status IN ('ACTIVE', 'PAUSED')`,
		string(userID), string(userID)).Scan(&counted)
	if err != nil {
		return 0, fmt.Errorf("failed to count partnerships: %w", err)
	}
	return counted, nil
}

// ListStalePending returns PENDING partnerships created before the cutoff,
// for the expire-pending job.
func (db *DB) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Partnership, error) {
	return db.queryPartnerships(ctx,
		`SELECT `+partnershipColumns+` FROM partnerships
		 WHERE status = 'PENDING' AND created_at < ?
		 ORDER BY created_at`, cutoff.UTC())
}

// ListStaleHealth returns ACTIVE|PAUSED partnerships whose health was
// computed before the cutoff, for the health-recompute job.
func (db *DB) ListStaleHealth(ctx context.Context, cutoff time.Time) ([]models.Partnership, error) {
	return db.queryPartnerships(ctx,
		`SELECT `+partnershipColumns+` FROM partnerships
		 WHERE status IN ('ACTIVE', 'PAUSED') AND health_updated_at < ?
		 ORDER BY health_updated_at`, cutoff.UTC())
}

// ListCountedPartnerships returns every ACTIVE|PAUSED partnership, for the
// streak-decay job.
func (db *DB) ListCountedPartnerships(ctx context.Context) ([]models.Partnership, error) {
	return db.queryPartnerships(ctx,
		`SELECT `+partnershipColumns+` FROM partnerships
		 WHERE status IN ('ACTIVE', 'PAUSED')
		 ORDER BY created_at`)
}

func (db *DB) queryPartnerships(ctx context.Context, query string, args ...any) ([]models.Partnership, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list partnerships: %w", err)
	}
	defer rows.Close()

	out := make([]models.Partnership, 0)
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partnership: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partnerships: %w", err)
	}
	return out, nil
}

func scanPartnership(row rowScanner) (*models.Partnership, error) {
	var (
		p                                  models.Partnership
		id, userA, userB, initiator        string
		status, endReason                  string
		respondedAt, pausedAt, endedAt     sql.NullTime
		pausedTotalSeconds                 int64
	)
	err := row.Scan(
		&id, &userA, &userB, &initiator, &status, &p.Message, &p.MatchScore,
		&p.DurationDays, &p.CreatedAt, &respondedAt, &pausedAt, &endedAt, &endReason,
		&pausedTotalSeconds, &p.TotalSessions, &p.TotalGoalsCompleted, &p.CurrentStreak,
		&p.LastActivityAt, &p.Health, &p.HealthUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt partnership id %q: %w", id, err)
	}
	p.UserA = models.UserID(userA)
	p.UserB = models.UserID(userB)
	p.Initiator = models.UserID(initiator)
	p.Status = models.PartnershipStatus(status)
	p.EndReason = models.EndReason(endReason)
	p.RespondedAt = timePtr(respondedAt)
	p.PausedAt = timePtr(pausedAt)
	p.EndedAt = timePtr(endedAt)
	p.PausedTotal = time.Duration(pausedTotalSeconds) * time.Second
	return &p, nil
}

// RecordRating stores a member's 1..5 rating given when ending a
// partnership. One rating per member per partnership.
func (db *DB) RecordRating(ctx context.Context, rating *models.PartnershipRating) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO partnership_ratings (partnership_id, rater_id, rating, created_at)
		 VALUES (?, ?, ?, ?)`,
		rating.PartnershipID.String(), string(rating.RaterID), rating.Rating, rating.CreatedAt)
	if err != nil {
		if isConstraintError(err) {
			return fault.New(fault.KindConflict, "user %s already rated partnership %s", rating.RaterID, rating.PartnershipID)
		}
		return fmt.Errorf("failed to record rating: %w", err)
	}
	return nil
}

// ListRatings retrieves the ratings recorded for a partnership.
func (db *DB) ListRatings(ctx context.Context, partnershipID uuid.UUID) ([]models.PartnershipRating, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT partnership_id, rater_id, rating, created_at FROM partnership_ratings
		 WHERE partnership_id = ? ORDER BY created_at`, partnershipID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]models.PartnershipRating, 0)
	for rows.Next() {
		var (
			r       models.PartnershipRating
			id, who string
		)
		if err := rows.Scan(&id, &who, &r.Rating, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		r.PartnershipID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt rating partnership id %q: %w", id, err)
		}
		r.RaterID = models.UserID(who)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ratings: %w", err)
	}
	return out, nil
}
