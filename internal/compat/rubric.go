// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package compat

import (
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/tandem/internal/models"
)

// Weights holds the rubric factor weights. They must sum to 1.0; New
// rejects any other configuration at boot.
type Weights struct {
	Timezone      float64
	Interests     float64
	Goals         float64
	Schedule      float64
	Communication float64
	Personality   float64
}

// DefaultWeights is the production rubric.
var DefaultWeights = Weights{
	Timezone:      0.25,
	Interests:     0.20,
	Goals:         0.20,
	Schedule:      0.15,
	Communication: 0.10,
	Personality:   0.10,
}

// weightSumTolerance absorbs float literal rounding in configured weights.
const weightSumTolerance = 1e-9

// Validate checks that every weight is non-negative and the sum is 1.0.
func (w Weights) Validate() error {
	values := []float64{w.Timezone, w.Interests, w.Goals, w.Schedule, w.Communication, w.Personality}
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			return fmt.Errorf("negative weight %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights sum to %v, must sum to 1.0", sum)
	}
	return nil
}

// neutralFactor is the score assigned when a factor has no information,
// such as two empty tag sets.
const neutralFactor = 0.5

// personalityFloor bounds the personality factor from below so sparse
// personality tags cannot sink an otherwise strong pairing.
const personalityFloor = 0.3

// communicationMatrix holds the pairwise style compatibility for distinct
// styles. Symmetric lookups go through communicationFactor; identical
// styles are always 1.0.
var communicationMatrix = map[models.CommunicationStyle]map[models.CommunicationStyle]float64{
	models.StyleDirect: {
		models.StyleAnalytical: 0.8,
		models.StyleBalanced:   0.7,
		models.StyleSupportive: 0.5,
	},
	models.StyleBalanced: {
		models.StyleAnalytical: 0.8,
		models.StyleSupportive: 0.9,
	},
	models.StyleAnalytical: {
		models.StyleSupportive: 0.6,
	},
}

// communicationFactor looks up the pairwise style compatibility.
func communicationFactor(a, b models.CommunicationStyle) float64 {
	if a == b {
		return 1.0
	}
	if row, ok := communicationMatrix[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := communicationMatrix[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	// Unknown styles are rejected at validation; treat as neutral rather
	// than panicking on a corrupted row.
	return neutralFactor
}

// timezoneOffsetHours returns the UTC offset of loc at the given instant,
// in fractional hours. Fractional offsets (e.g. +5:30) are preserved.
func timezoneOffsetHours(loc *time.Location, at time.Time) float64 {
	_, offsetSeconds := at.In(loc).Zone()
	return float64(offsetSeconds) / 3600.0
}

// timezoneFactor maps the absolute hour difference between two zones at
// an instant onto [0,1]: identical offsets score 1.0, twelve or more
// hours apart scores 0.
func timezoneFactor(locA, locB *time.Location, at time.Time) (factor, absDiffHours float64) {
	diff := timezoneOffsetHours(locA, at) - timezoneOffsetHours(locB, at)
	absDiffHours = math.Abs(diff)
	factor = 1.0 - math.Min(absDiffHours, 12.0)/12.0
	return factor, absDiffHours
}

// jaccard computes set similarity of two tag slices. When both sides are
// empty there is no information, so emptyBoth is returned.
func jaccard(a, b []string, emptyBoth float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return emptyBoth
	}
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, tag := range a {
		union[tag] = struct{}{}
		inA[tag] = struct{}{}
	}
	intersection := 0
	for _, tag := range b {
		if _, seen := union[tag]; !seen {
			union[tag] = struct{}{}
		}
	}
	counted := make(map[string]struct{}, len(b))
	for _, tag := range b {
		if _, dup := counted[tag]; dup {
			continue
		}
		counted[tag] = struct{}{}
		if _, ok := inA[tag]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

// personalityFactor is tag Jaccard with a floor.
func personalityFactor(a, b []string) float64 {
	j := jaccard(a, b, neutralFactor)
	if j < personalityFloor {
		return personalityFloor
	}
	return j
}

// scheduleFactor is the weekly overlap in minutes divided by the smaller
// weekly total. With no schedule on either side the factor is neutral.
func scheduleFactor(a, b models.WeekSchedule) float64 {
	totalA := a.TotalMinutes()
	totalB := b.TotalMinutes()
	smaller := totalA
	if totalB < smaller {
		smaller = totalB
	}
	if smaller == 0 {
		return neutralFactor
	}
	overlap := a.OverlapMinutes(b)
	f := float64(overlap) / float64(smaller)
	if f > 1.0 {
		f = 1.0
	}
	return f
}
