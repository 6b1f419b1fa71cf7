// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import "fmt"

// createTables creates all tables if they do not exist. Tag sets and the
// working-hours map are stored as JSON text; DuckDB handles them as plain
// columns and the application layer owns their shape.
func (db *DB) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT PRIMARY KEY,
			timezone TEXT NOT NULL,
			working_hours TEXT NOT NULL DEFAULT '{}',
			interests TEXT NOT NULL DEFAULT '[]',
			focus_goals TEXT NOT NULL DEFAULT '[]',
			communication_style TEXT NOT NULL,
			experience_level TEXT NOT NULL,
			personality_tags TEXT NOT NULL DEFAULT '[]',
			session_minutes INTEGER NOT NULL,
			max_partners INTEGER NOT NULL DEFAULT 3,
			available BOOLEAN NOT NULL DEFAULT false,
			tombstoned BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS queue_entries (
			user_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			enqueued_at TIMESTAMP NOT NULL,
			last_considered_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS partnerships (
			id TEXT PRIMARY KEY,
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			initiator TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			match_score DOUBLE NOT NULL DEFAULT 0,
			duration_days INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			responded_at TIMESTAMP,
			paused_at TIMESTAMP,
			ended_at TIMESTAMP,
			end_reason TEXT NOT NULL DEFAULT '',
			paused_total_seconds BIGINT NOT NULL DEFAULT 0,
			total_sessions INTEGER NOT NULL DEFAULT 0,
			total_goals_completed INTEGER NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			last_activity_at TIMESTAMP NOT NULL,
			health DOUBLE NOT NULL DEFAULT 0,
			health_updated_at TIMESTAMP NOT NULL,
			CHECK (user_a < user_b)
		)`,

		// slot_key is the dedupe key: the author-local date for DAILY
		// check-ins, the ISO week for WEEKLY ones. The UNIQUE constraint
		// doubles as the per-slot serializer.
		`CREATE TABLE IF NOT EXISTS check_ins (
			id TEXT PRIMARY KEY,
			partnership_id TEXT NOT NULL,
			author TEXT NOT NULL,
			kind TEXT NOT NULL,
			mood INTEGER NOT NULL,
			energy INTEGER NOT NULL,
			productivity INTEGER NOT NULL,
			stress INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			local_date TEXT NOT NULL DEFAULT '',
			iso_week TEXT NOT NULL DEFAULT '',
			slot_key TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (partnership_id, author, kind, slot_key)
		)`,

		`CREATE TABLE IF NOT EXISTS streak_state (
			partnership_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			current INTEGER NOT NULL DEFAULT 0,
			longest INTEGER NOT NULL DEFAULT 0,
			last_check_in_date TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (partnership_id, user_id)
		)`,

		// One row per risk-band transition, so the edge trigger survives
		// restarts.
		`CREATE TABLE IF NOT EXISTS health_events (
			id TEXT PRIMARY KEY,
			partnership_id TEXT NOT NULL,
			health DOUBLE NOT NULL,
			at_risk BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS partnership_ratings (
			partnership_id TEXT NOT NULL,
			rater_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (partnership_id, rater_id)
		)`,

		`CREATE TABLE IF NOT EXISTS outbound_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			delivered_at TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// createIndexes creates secondary indexes for the hot query paths.
func (db *DB) createIndexes() error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_partnerships_user_a ON partnerships (user_a)`,
		`CREATE INDEX IF NOT EXISTS idx_partnerships_user_b ON partnerships (user_b)`,
		`CREATE INDEX IF NOT EXISTS idx_partnerships_status ON partnerships (status)`,
		`CREATE INDEX IF NOT EXISTS idx_check_ins_partnership ON check_ins (partnership_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_health_events_partnership ON health_events (partnership_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_events_undelivered ON outbound_events (created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
