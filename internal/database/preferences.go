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

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/validation"
)

const preferenceColumns = `user_id, timezone, working_hours, interests, focus_goals,
	communication_style, experience_level, personality_tags, session_minutes,
	max_partners, available, tombstoned, version, created_at, updated_at`

// UpsertPreferences writes preferences for a user, bumping the optimistic
// version tag. Last writer wins; the returned struct carries the stored
// version and timestamps.
func (db *DB) UpsertPreferences(ctx context.Context, prefs *models.UserPreferences) (*models.UserPreferences, error) {
	if verr := validation.ValidateStruct(prefs); verr != nil {
		return nil, fault.Wrap(fault.KindInvalid, verr, "preferences rejected")
	}
	if err := prefs.WorkingHours.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "preferences rejected")
	}

	workingHours, err := json.Marshal(prefs.WorkingHours)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "preferences: working hours not serializable")
	}
	interests, err := json.Marshal(emptyIfNil(prefs.Interests))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "preferences: interests not serializable")
	}
	goals, err := json.Marshal(emptyIfNil(prefs.FocusGoals))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "preferences: focus goals not serializable")
	}
	personality, err := json.Marshal(emptyIfNil(prefs.PersonalityTags))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "preferences: personality tags not serializable")
	}

	now := time.Now().UTC()
	stored := *prefs

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var version int64
		var createdAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT version, created_at FROM preferences WHERE user_id = ?`, string(prefs.UserID),
		).Scan(&version, &createdAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			stored.Version = 1
			stored.CreatedAt = now
			stored.UpdatedAt = now
			_, err = tx.ExecContext(ctx,
				`INSERT INTO preferences (`+preferenceColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(stored.UserID), stored.Timezone, string(workingHours), string(interests), string(goals),
				string(stored.Style), string(stored.Experience), string(personality), stored.SessionMinutes,
				stored.MaxPartners, stored.Available, stored.Tombstoned, stored.Version, stored.CreatedAt, stored.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert preferences: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to read preference version: %w", err)
		}

		stored.Version = version + 1
		stored.CreatedAt = createdAt
		stored.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE preferences SET timezone = ?, working_hours = ?, interests = ?, focus_goals = ?,
			 communication_style = ?, experience_level = ?, personality_tags = ?, session_minutes = ?,
			 max_partners = ?, available = ?, tombstoned = ?, version = ?, updated_at = ?
			 WHERE user_id = ?`,
			stored.Timezone, string(workingHours), string(interests), string(goals),
			string(stored.Style), string(stored.Experience), string(personality), stored.SessionMinutes,
			stored.MaxPartners, stored.Available, stored.Tombstoned, stored.Version, stored.UpdatedAt,
			string(stored.UserID),
		)
		if err != nil {
			return fmt.Errorf("failed to update preferences: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetPreferences retrieves preferences by user id.
func (db *DB) GetPreferences(ctx context.Context, userID models.UserID) (*models.UserPreferences, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ?`, string(userID))
	prefs, err := scanPreferences(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "preferences for user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return prefs, nil
}

// SetAvailability flips the availability flag without touching the rest of
// the preference row. The version still bumps so cached compatibility
// scores computed against the old flag expire.
func (db *DB) SetAvailability(ctx context.Context, userID models.UserID, available bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE preferences SET available = ?, version = version + 1, updated_at = ? WHERE user_id = ?`,
		available, time.Now().UTC(), string(userID))
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return requireRow(result, "preferences for user %s not found", userID)
}

// TombstonePreferences marks a removed user's preferences. Tombstoned rows
// are excluded from matching and suggestions but never deleted.
func (db *DB) TombstonePreferences(ctx context.Context, userID models.UserID) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE preferences SET tombstoned = true, available = false, version = version + 1, updated_at = ?
		 WHERE user_id = ?`,
		time.Now().UTC(), string(userID))
	if err != nil {
		return fmt.Errorf("failed to tombstone preferences: %w", err)
	}
	return requireRow(result, "preferences for user %s not found", userID)
}

// ListPreferencesForUsers retrieves preferences for a set of users, keyed
// by user id. Missing and tombstoned users are silently absent.
func (db *DB) ListPreferencesForUsers(ctx context.Context, userIDs []models.UserID) (map[models.UserID]*models.UserPreferences, error) {
	out := make(map[models.UserID]*models.UserPreferences, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + preferenceColumns + ` FROM preferences WHERE tombstoned = false AND user_id IN (`
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = string(id)
	}
	query += ")"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preferences: %w", err)
		}
		out[prefs.UserID] = prefs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferences: %w", err)
	}
	return out, nil
}

// ListAvailableNonQueued scans availability-flagged users who are not in
// the live queue, bounded by limit. Used for suggestion queries.
func (db *DB) ListAvailableNonQueued(ctx context.Context, exclude models.UserID, limit int) ([]*models.UserPreferences, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences p
		 WHERE p.available = true AND p.tombstoned = false AND p.user_id <> ?
		   AND NOT EXISTS (
			 SELECT 1 FROM queue_entries q
			 WHERE q.user_id = p.user_id AND q.status IN ('WAITING', 'MATCHING')
		   )
		 ORDER BY p.user_id
		 LIMIT ?`,
		string(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan available users: %w", err)
	}
	defer rows.Close()

	var out []*models.UserPreferences
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preferences: %w", err)
		}
		out = append(out, prefs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating available users: %w", err)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreferences(row rowScanner) (*models.UserPreferences, error) {
	var (
		prefs                                      models.UserPreferences
		userID                                     string
		workingHours, interests, goals, personality string
		style, experience                          string
	)
	err := row.Scan(
		&userID, &prefs.Timezone, &workingHours, &interests, &goals,
		&style, &experience, &personality, &prefs.SessionMinutes,
		&prefs.MaxPartners, &prefs.Available, &prefs.Tombstoned,
		&prefs.Version, &prefs.CreatedAt, &prefs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	prefs.UserID = models.UserID(userID)
	prefs.Style = models.CommunicationStyle(style)
	prefs.Experience = models.ExperienceLevel(experience)
	if err := json.Unmarshal([]byte(workingHours), &prefs.WorkingHours); err != nil {
		return nil, fmt.Errorf("corrupt working hours for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(interests), &prefs.Interests); err != nil {
		return nil, fmt.Errorf("corrupt interests for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(goals), &prefs.FocusGoals); err != nil {
		return nil, fmt.Errorf("corrupt focus goals for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(personality), &prefs.PersonalityTags); err != nil {
		return nil, fmt.Errorf("corrupt personality tags for %s: %w", userID, err)
	}
	return &prefs, nil
}

// requireRow converts a zero-row update into a NotFound fault.
func requireRow(result sql.Result, format string, args ...interface{}) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fault.New(fault.KindNotFound, format, args...)
	}
	return nil
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
