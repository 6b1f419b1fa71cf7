// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package compat implements the compatibility engine: a pure, deterministic
// rubric that scores a candidate pairing on weighted timezone, interest,
// goal, schedule, communication, and personality factors.
//
// Scores are ephemeral and never authoritative; callers may cache them,
// keyed on both preference versions, for at most the configured TTL.
package compat

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/models"
)

// MinimumAcceptable is the auto-proposal threshold. Pairs scoring below it
// are never auto-proposed but still appear in explicit queries with
// BelowThreshold set.
const MinimumAcceptable = 0.6

// Factors is the per-factor breakdown of a compatibility score, each
// in [0,1].
type Factors struct {
	Timezone      float64 `json:"timezone"`
	Interests     float64 `json:"interests"`
	Goals         float64 `json:"goals"`
	Schedule      float64 `json:"schedule"`
	Communication float64 `json:"communication"`
	Personality   float64 `json:"personality"`
}

// Score is a computed compatibility result for an ordered pair.
type Score struct {
	UserA models.UserID `json:"user_a"`
	UserB models.UserID `json:"user_b"`

	Total   float64 `json:"total"`
	Factors Factors `json:"factors"`

	// TZDiffHours is the absolute timezone offset difference at compute
	// time, kept for tie-break ordering.
	TZDiffHours float64 `json:"tz_diff_hours"`

	BelowThreshold bool      `json:"below_threshold"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Scorer scores candidate pairings. The rubric engine is the sole
// implementation; tests substitute fixed-score fakes.
type Scorer interface {
	// Score computes compatibility for a pair at the given instant.
	// Fails with fault.KindInvalid only on unparseable preferences.
	Score(a, b *models.UserPreferences, at time.Time) (*Score, error)

	// Threshold returns the auto-proposal minimum.
	Threshold() float64
}

// Config controls the engine.
type Config struct {
	Weights   Weights
	Threshold float64
	// CacheTTL bounds how long computed scores are served from cache.
	// Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns the production rubric configuration.
func DefaultConfig() Config {
	return Config{
		Weights:   DefaultWeights,
		Threshold: MinimumAcceptable,
		CacheTTL:  5 * time.Minute,
	}
}

// Validate checks the configuration at boot.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must be non-negative, got %v", c.CacheTTL)
	}
	return nil
}

// Engine is the rubric implementation of Scorer.
type Engine struct {
	cfg    Config
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates an engine. The cache may be nil to disable score caching.
func New(cfg Config, scoreCache *cache.Cache) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compat config: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		cache:  scoreCache,
		logger: logging.With().Str("component", "compat").Logger(),
	}, nil
}

// Threshold returns the auto-proposal minimum.
func (e *Engine) Threshold() float64 { return e.cfg.Threshold }

// Score computes compatibility for a pair at the given instant. The result
// is symmetric in the inputs; UserA/UserB follow canonical pair order.
func (e *Engine) Score(a, b *models.UserPreferences, at time.Time) (*Score, error) {
	if a == nil || b == nil {
		return nil, fault.New(fault.KindInvalid, "compat: nil preferences")
	}
	if a.UserID == b.UserID {
		return nil, fault.New(fault.KindInvalid, "compat: cannot score user %s against itself", a.UserID)
	}

	// Canonical order keeps the cache key and the result stable regardless
	// of argument order.
	if b.UserID < a.UserID {
		a, b = b, a
	}

	key := scoreKey(a, b)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if score, ok := cached.(*Score); ok {
				return score, nil
			}
		}
	}

	locA, err := a.Location()
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "compat: user %s timezone %q", a.UserID, a.Timezone)
	}
	locB, err := b.Location()
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, err, "compat: user %s timezone %q", b.UserID, b.Timezone)
	}

	tzFactor, tzDiff := timezoneFactor(locA, locB, at)
	factors := Factors{
		Timezone:      tzFactor,
		Interests:     jaccard(a.Interests, b.Interests, neutralFactor),
		Goals:         jaccard(a.FocusGoals, b.FocusGoals, neutralFactor),
		Schedule:      scheduleFactor(a.WorkingHours, b.WorkingHours),
		Communication: communicationFactor(a.Style, b.Style),
		Personality:   personalityFactor(a.PersonalityTags, b.PersonalityTags),
	}

	w := e.cfg.Weights
	total := w.Timezone*factors.Timezone +
		w.Interests*factors.Interests +
		w.Goals*factors.Goals +
		w.Schedule*factors.Schedule +
		w.Communication*factors.Communication +
		w.Personality*factors.Personality

	score := &Score{
		UserA:          a.UserID,
		UserB:          b.UserID,
		Total:          total,
		Factors:        factors,
		TZDiffHours:    tzDiff,
		BelowThreshold: total < e.cfg.Threshold,
		ComputedAt:     at,
	}

	if e.cache != nil && e.cfg.CacheTTL > 0 {
		e.cache.SetWithTTL(key, score, e.cfg.CacheTTL)
	}

	e.logger.Debug().
		Str("user_a", string(a.UserID)).
		Str("user_b", string(b.UserID)).
		Float64("total", total).
		Bool("below_threshold", score.BelowThreshold).
		Msg("compatibility scored")

	return score, nil
}

// scoreKey builds the cache key for a canonically ordered pair. Both
// preference versions are part of the key, so a preference write can never
// be answered with a stale score.
func scoreKey(a, b *models.UserPreferences) string {
	return fmt.Sprintf("compat:%s:%s:%d:%d", a.UserID, b.UserID, a.Version, b.Version)
}

// RankBefore reports whether x should rank ahead of y in suggestion
// ordering: higher total, then higher schedule factor, then lower absolute
// timezone difference, then lexicographically smaller partner id.
func RankBefore(x, y *Score) bool {
	if x.Total != y.Total {
		return x.Total > y.Total
	}
	if x.Factors.Schedule != y.Factors.Schedule {
		return x.Factors.Schedule > y.Factors.Schedule
	}
	if x.TZDiffHours != y.TZDiffHours {
		return x.TZDiffHours < y.TZDiffHours
	}
	if x.UserA != y.UserA {
		return x.UserA < y.UserA
	}
	return x.UserB < y.UserB
}
