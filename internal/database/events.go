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
)

// OutboundEvent is an outbox row awaiting publication. Events are written
// durably alongside the state change that caused them and drained to the
// message bus by the outbox-drain job, giving at-least-once delivery.
type OutboundEvent struct {
	ID          uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// AppendOutboundEvent writes an event to the outbox.
func (db *DB) AppendOutboundEvent(ctx context.Context, eventType string, payload []byte, now time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO outbound_events (id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), eventType, string(payload), now.UTC())
	if err != nil {
		return fmt.Errorf("failed to append outbound event: %w", err)
	}
	return nil
}

// ListUndelivered returns the oldest undelivered events, bounded by limit.
func (db *DB) ListUndelivered(ctx context.Context, limit int) ([]OutboundEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, event_type, payload, created_at, delivered_at FROM outbound_events
		 WHERE delivered_at IS NULL
		 ORDER BY created_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered events: %w", err)
	}
	defer rows.Close()

	out := make([]OutboundEvent, 0)
	for rows.Next() {
		var (
			e         OutboundEvent
			id        string
			payload   string
			delivered sql.NullTime
		)
		if err := rows.Scan(&id, &e.EventType, &payload, &e.CreatedAt, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan outbound event: %w", err)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt outbound event id %q: %w", id, err)
		}
		e.Payload = []byte(payload)
		e.DeliveredAt = timePtr(delivered)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbound events: %w", err)
	}
	return out, nil
}

// MarkDelivered stamps events as published.
func (db *DB) MarkDelivered(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbound_events SET delivered_at = ? WHERE id IN (`
	args := []any{now.UTC()}
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, id.String())
	}
	query += ")"

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark events delivered: %w", err)
	}
	return nil
}

// PruneDeliveredEvents removes delivered outbox rows older than the cutoff.
func (db *DB) PruneDeliveredEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM outbound_events WHERE delivered_at IS NOT NULL AND delivered_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivered events: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return pruned, nil
}

// InsertHealthEvent records a risk-band transition for a partnership.
func (db *DB) InsertHealthEvent(ctx context.Context, partnershipID uuid.UUID, health float64, atRisk bool, now time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO health_events (id, partnership_id, health, at_risk, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), partnershipID.String(), health, atRisk, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert health event: %w", err)
	}
	return nil
}

// LastHealthAtRisk returns the risk flag of the most recent health event,
// or false when none was recorded. Makes the HealthAtRisk edge trigger
// durable across restarts.
func (db *DB) LastHealthAtRisk(ctx context.Context, partnershipID uuid.UUID) (bool, error) {
	var atRisk bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT at_risk FROM health_events WHERE partnership_id = ?
		 ORDER BY created_at DESC LIMIT 1`, partnershipID.String()).Scan(&atRisk)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read last health event: %w", err)
	}
	return atRisk, nil
}

// ListHealthEvents returns a partnership's recorded band transitions,
// newest first.
func (db *DB) ListHealthEvents(ctx context.Context, partnershipID uuid.UUID, limit int) ([]HealthEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, partnership_id, health, at_risk, created_at FROM health_events
		 WHERE partnership_id = ? ORDER BY created_at DESC LIMIT ?`,
		partnershipID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list health events: %w", err)
	}
	defer rows.Close()

	out := make([]HealthEvent, 0)
	for rows.Next() {
		var (
			e       HealthEvent
			id, pid string
		)
		if err := rows.Scan(&id, &pid, &e.Health, &e.AtRisk, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health event: %w", err)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("corrupt health event id %q: %w", id, err)
		}
		e.PartnershipID, err = uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("corrupt health event partnership id %q: %w", pid, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health events: %w", err)
	}
	return out, nil
}

// HealthEvent is a durable record of one risk-band transition.
type HealthEvent struct {
	ID            uuid.UUID
	PartnershipID uuid.UUID
	Health        float64
	AtRisk        bool
	CreatedAt     time.Time
}
