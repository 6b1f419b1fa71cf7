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

	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
)

// Enqueue creates a WAITING queue entry for the user. At most one live
// entry (WAITING or MATCHING) exists per user; re-joining over a settled
// entry (ADMITTED or LEFT) replaces it.
func (db *DB) Enqueue(ctx context.Context, userID models.UserID, now time.Time) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		UserID:     userID,
		Status:     models.QueueWaiting,
		EnqueuedAt: now.UTC(),
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM queue_entries WHERE user_id = ?`, string(userID)).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO queue_entries (user_id, status, enqueued_at) VALUES (?, ?, ?)`,
				string(userID), string(entry.Status), entry.EnqueuedAt)
			if err != nil {
				return fmt.Errorf("failed to enqueue: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to read queue entry: %w", err)
		}

		if s := models.QueueStatus(status); s == models.QueueWaiting || s == models.QueueMatching {
			return fault.New(fault.KindConflict, "user %s is already queued", userID)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE queue_entries SET status = ?, enqueued_at = ?, last_considered_at = NULL WHERE user_id = ?`,
			string(entry.Status), entry.EnqueuedAt, string(userID))
		if err != nil {
			return fmt.Errorf("failed to re-enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteQueueEntry removes the user's entry. Leaving is idempotent, so a
// missing row is not an error; the boolean reports whether a row existed.
func (db *DB) DeleteQueueEntry(ctx context.Context, userID models.UserID) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE user_id = ?`, string(userID))
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetQueueEntry retrieves the user's entry.
func (db *DB) GetQueueEntry(ctx context.Context, userID models.UserID) (*models.QueueEntry, error) {
	var (
		entry          models.QueueEntry
		id, status     string
		lastConsidered sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, status, enqueued_at, last_considered_at FROM queue_entries WHERE user_id = ?`,
		string(userID)).Scan(&id, &status, &entry.EnqueuedAt, &lastConsidered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "user %s is not queued", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	entry.UserID = models.UserID(id)
	entry.Status = models.QueueStatus(status)
	if lastConsidered.Valid {
		entry.LastConsideredAt = lastConsidered.Time
	}
	return &entry, nil
}

// QueuePosition returns the user's 1-based position among WAITING entries,
// ordered by enqueue time.
func (db *DB) QueuePosition(ctx context.Context, userID models.UserID) (*models.QueuePosition, error) {
	entry, err := db.GetQueueEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.QueueWaiting && entry.Status != models.QueueMatching {
		return nil, fault.New(fault.KindWrongState, "user %s queue entry is %s", userID, entry.Status)
	}

	var position int
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries
		 WHERE status IN ('WAITING', 'MATCHING')
		   AND (enqueued_at < ? OR (enqueued_at = ? AND user_id <= ?))`,
		entry.EnqueuedAt, entry.EnqueuedAt, string(userID)).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return &models.QueuePosition{Position: position, EnqueuedAt: entry.EnqueuedAt}, nil
}

// SnapshotWaiting returns all live queue entries ordered by enqueue time,
// oldest first. The matching pass operates on this snapshot.
func (db *DB) SnapshotWaiting(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, status, enqueued_at, last_considered_at FROM queue_entries
		 WHERE status IN ('WAITING', 'MATCHING')
		 ORDER BY enqueued_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	defer rows.Close()

	entries := make([]models.QueueEntry, 0)
	for rows.Next() {
		var (
			entry          models.QueueEntry
			id, status     string
			lastConsidered sql.NullTime
		)
		if err := rows.Scan(&id, &status, &entry.EnqueuedAt, &lastConsidered); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entry.UserID = models.UserID(id)
		entry.Status = models.QueueStatus(status)
		if lastConsidered.Valid {
			entry.LastConsideredAt = lastConsidered.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

// MarkConsidered stamps last_considered_at on the given entries after a
// matching pass evaluated them.
func (db *DB) MarkConsidered(ctx context.Context, userIDs []models.UserID, now time.Time) error {
	return db.setQueueField(ctx, userIDs, `last_considered_at = ?`, now.UTC())
}

// MarkAdmitted settles the given entries after a proposal was opened for
// them.
func (db *DB) MarkAdmitted(ctx context.Context, userIDs []models.UserID, now time.Time) error {
	return db.setQueueField(ctx, userIDs, `status = 'ADMITTED', last_considered_at = ?`, now.UTC())
}

func (db *DB) setQueueField(ctx context.Context, userIDs []models.UserID, setClause string, arg any) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `UPDATE queue_entries SET ` + setClause + ` WHERE user_id IN (`
	args := []any{arg}
	for i, id := range userIDs {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(id))
	}
	query += ")"

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update queue entries: %w", err)
	}
	return nil
}

// EvictIdleQueueEntries removes live entries enqueued before the cutoff.
// Returns the evicted user ids for logging and metrics.
func (db *DB) EvictIdleQueueEntries(ctx context.Context, cutoff time.Time) ([]models.UserID, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id FROM queue_entries
		 WHERE status IN ('WAITING', 'MATCHING') AND enqueued_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find idle queue entries: %w", err)
	}
	defer rows.Close()

	var evicted []models.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan idle queue entry: %w", err)
		}
		evicted = append(evicted, models.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating idle queue entries: %w", err)
	}
	if len(evicted) == 0 {
		return nil, nil
	}

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE status IN ('WAITING', 'MATCHING') AND enqueued_at < ?`,
		cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("failed to evict idle queue entries: %w", err)
	}
	return evicted, nil
}

// CountQueueByStatus returns entry counts per status for metrics.
func (db *DB) CountQueueByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.QueueStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		counts[models.QueueStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue counts: %w", err)
	}
	return counts, nil
}

// OldestWaitingSince returns the enqueue time of the oldest live entry,
// or false when the queue is empty. Feeds the queue-age metric.
func (db *DB) OldestWaitingSince(ctx context.Context) (time.Time, bool, error) {
	var oldest sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT MIN(enqueued_at) FROM queue_entries WHERE status IN ('WAITING', 'MATCHING')`).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read oldest queue entry: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, false, nil
	}
	return oldest.Time, true, nil
}
