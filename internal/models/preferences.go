// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"fmt"
	"sort"
	"time"
)

// UserID identifies a user. The surrounding platform issues and verifies
// these; the core only orders and compares them.
type UserID string

// CommunicationStyle classifies how a user prefers to communicate with a
// partner. Pairwise compatibility is looked up in a fixed matrix.
type CommunicationStyle string

const (
	StyleDirect     CommunicationStyle = "DIRECT"
	StyleSupportive CommunicationStyle = "SUPPORTIVE"
	StyleBalanced   CommunicationStyle = "BALANCED"
	StyleAnalytical CommunicationStyle = "ANALYTICAL"
)

// Valid reports whether the style is one of the four known values.
func (s CommunicationStyle) Valid() bool {
	switch s {
	case StyleDirect, StyleSupportive, StyleBalanced, StyleAnalytical:
		return true
	default:
		return false
	}
}

// ExperienceLevel classifies self-reported productivity experience.
type ExperienceLevel string

const (
	LevelBeginner     ExperienceLevel = "BEGINNER"
	LevelIntermediate ExperienceLevel = "INTERMEDIATE"
	LevelAdvanced     ExperienceLevel = "ADVANCED"
)

// Valid reports whether the level is one of the known values.
func (l ExperienceLevel) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	default:
		return false
	}
}

// Interval is a working-hours interval within a single day, expressed as
// minutes from local midnight. End is exclusive.
type Interval struct {
	StartMinute int `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int `json:"end_minute" validate:"min=1,max=1440"`
}

// Minutes returns the interval length in minutes.
func (iv Interval) Minutes() int {
	return iv.EndMinute - iv.StartMinute
}

// WeekSchedule maps day-of-week to working-hour intervals.
type WeekSchedule map[time.Weekday][]Interval

// Validate checks that every interval is well-formed and that intervals
// within a day do not overlap.
func (w WeekSchedule) Validate() error {
	for day, intervals := range w {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("invalid weekday %d", day)
		}
		sorted := make([]Interval, len(intervals))
		copy(sorted, intervals)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].StartMinute < sorted[j].StartMinute
		})
		for i, iv := range sorted {
			if iv.StartMinute < 0 || iv.EndMinute > 24*60 || iv.StartMinute >= iv.EndMinute {
				return fmt.Errorf("%s: interval %d-%d out of range", day, iv.StartMinute, iv.EndMinute)
			}
			if i > 0 && iv.StartMinute < sorted[i-1].EndMinute {
				return fmt.Errorf("%s: intervals %d-%d and %d-%d overlap",
					day, sorted[i-1].StartMinute, sorted[i-1].EndMinute, iv.StartMinute, iv.EndMinute)
			}
		}
	}
	return nil
}

// TotalMinutes returns the total scheduled minutes across the week.
func (w WeekSchedule) TotalMinutes() int {
	total := 0
	for _, intervals := range w {
		for _, iv := range intervals {
			total += iv.Minutes()
		}
	}
	return total
}

// OverlapMinutes returns the number of minutes per week where both
// schedules are active on the same day.
func (w WeekSchedule) OverlapMinutes(other WeekSchedule) int {
	total := 0
	for day, intervals := range w {
		for _, a := range intervals {
			for _, b := range other[day] {
				lo := a.StartMinute
				if b.StartMinute > lo {
					lo = b.StartMinute
				}
				hi := a.EndMinute
				if b.EndMinute < hi {
					hi = b.EndMinute
				}
				if hi > lo {
					total += hi - lo
				}
			}
		}
	}
	return total
}

// DefaultMaxPartners is the concurrent partner cap applied when a user has
// not chosen one.
const DefaultMaxPartners = 3

// UserPreferences holds per-user matching preferences and availability.
// One row per user; last writer wins with an optimistic version tag.
type UserPreferences struct {
	UserID          UserID             `json:"user_id" validate:"required"`
	Timezone        string             `json:"timezone" validate:"required,iana_tz"`
	WorkingHours    WeekSchedule       `json:"working_hours"`
	Interests       []string           `json:"interests" validate:"tagset"`
	FocusGoals      []string           `json:"focus_goals" validate:"tagset"`
	Style           CommunicationStyle `json:"communication_style" validate:"required,comm_style"`
	Experience      ExperienceLevel    `json:"experience_level" validate:"required,exp_level"`
	PersonalityTags []string           `json:"personality_tags" validate:"tagset"`
	SessionMinutes  int                `json:"session_minutes" validate:"min=5,max=240"`
	MaxPartners     int                `json:"max_partners" validate:"min=1,max=5"`
	Available       bool               `json:"available"`
	Tombstoned      bool               `json:"tombstoned,omitempty"`

	// Version is the optimistic concurrency tag, bumped on every write.
	// Compatibility cache keys include both versions so a stale score is
	// never served after a preference change.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the preference timezone. The timezone is validated on
// write, so failure here indicates a corrupted row.
func (p *UserPreferences) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}
