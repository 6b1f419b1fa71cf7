// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
)

// RunFunc is one job execution. Errors are logged and counted; the job
// keeps its schedule. A run must honor ctx and leave durable state
// consistent when cancelled mid-flight.
type RunFunc func(ctx context.Context) error

// IntervalJob runs a function on a fixed cadence as a supervised
// service. Each job is single-flight by construction: the next tick is
// not consumed until the previous run returns.
type IntervalJob struct {
	name     string
	interval time.Duration
	run      RunFunc
	logger   zerolog.Logger

	// immediate runs the job once at startup before the first tick.
	immediate bool
}

// NewIntervalJob creates a periodic job. Jobs with immediate set run
// once as soon as the supervisor starts them, then on every interval.
func NewIntervalJob(name string, interval time.Duration, immediate bool, run RunFunc) *IntervalJob {
	return &IntervalJob{
		name:      name,
		interval:  interval,
		run:       run,
		immediate: immediate,
		logger:    logging.With().Str("job", name).Logger(),
	}
}

// Serve implements suture.Service.
func (j *IntervalJob) Serve(ctx context.Context) error {
	if j.immediate {
		j.execute(ctx)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.execute(ctx)
		}
	}
}

// String implements fmt.Stringer; suture uses it in supervision logs.
func (j *IntervalJob) String() string { return j.name }

func (j *IntervalJob) execute(ctx context.Context) {
	start := time.Now()
	err := j.run(ctx)
	metrics.JobDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.JobRunsTotal.WithLabelValues(j.name, "error").Inc()
		j.logger.Warn().Err(err).Msg("job run failed")
		return
	}
	metrics.JobRunsTotal.WithLabelValues(j.name, "ok").Inc()
}

// DailyJob runs a function once per day at a fixed UTC wall time.
type DailyJob struct {
	name   string
	hour   int
	minute int
	run    RunFunc
	logger zerolog.Logger

	// now is the clock; tests pin it.
	now func() time.Time
}

// NewDailyJob creates a job that fires daily at hh:mm UTC.
func NewDailyJob(name string, hour, minute int, run RunFunc) *DailyJob {
	return &DailyJob{
		name:   name,
		hour:   hour,
		minute: minute,
		run:    run,
		logger: logging.With().Str("job", name).Logger(),
		now:    time.Now,
	}
}

// Serve implements suture.Service.
func (j *DailyJob) Serve(ctx context.Context) error {
	for {
		wait := time.Until(j.nextRun(j.now().UTC()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		err := j.run(ctx)
		metrics.JobDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.JobRunsTotal.WithLabelValues(j.name, "error").Inc()
			j.logger.Warn().Err(err).Msg("job run failed")
			continue
		}
		metrics.JobRunsTotal.WithLabelValues(j.name, "ok").Inc()
	}
}

// String implements fmt.Stringer.
func (j *DailyJob) String() string { return j.name }

// nextRun returns the next hh:mm UTC occurrence strictly after now.
func (j *DailyJob) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), j.hour, j.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
