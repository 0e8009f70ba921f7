package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, tick time.Time) error

// IntervalFunc returns the current tick interval. It is consulted before every
// wait, so a changed interval applies from the next tick on.
type IntervalFunc func() time.Duration

// Options tune scheduler behaviour.
type Options struct {
	Interval     IntervalFunc
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives the single global monitoring loop. Ticks never overlap: the
// next wait starts after the previous tick returned.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval == nil {
		panic("scheduler interval func must be set")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Fixed returns an IntervalFunc for a constant interval.
func Fixed(d time.Duration) IntervalFunc {
	return func() time.Duration { return d }
}

// Run blocks, invoking the tick function at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		interval := s.interval()
		next := s.nextTick(time.Now().UTC(), interval)
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_tick", next).Dur("interval", interval).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.logger.Debug().Time("tick", next).Msg("executing scheduled tick")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("tick execution failed")
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	d := s.opts.Interval()
	if d <= 0 {
		s.logger.Warn().Dur("interval", d).Msg("non-positive interval, falling back to 1s")
		d = time.Second
	}
	return d
}

func (s *Scheduler) nextTick(now time.Time, interval time.Duration) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(interval)
	}
	tick := now.Truncate(interval)
	if !tick.After(now) {
		tick = tick.Add(interval)
	}
	return tick
}
