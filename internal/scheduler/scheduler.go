package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// ErrorBackoff replaces Interval as the pause after a failed or panicking tick.
	ErrorBackoff time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Now          func() time.Time
}

// Scheduler drives periodic execution of the check cycle.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = opts.Interval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled. The first tick fires right after the
// startup delay (or on the first aligned boundary); later ticks wait Interval,
// or ErrorBackoff when the previous tick failed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.AlignToStart {
		if err := sleep(ctx, s.untilBoundary(s.opts.Now().UTC())); err != nil {
			return err
		}
	}

	for {
		at := s.opts.Now().UTC()
		delay := s.opts.Interval
		if err := s.safeTick(ctx, tick, at); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Time("at", at).Dur("backoff", s.opts.ErrorBackoff).Msg("tick execution failed")
			delay = s.opts.ErrorBackoff
		} else if s.opts.AlignToStart {
			delay = s.untilBoundary(s.opts.Now().UTC())
		}

		s.logger.Debug().Dur("delay", delay).Msg("waiting for next tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// safeTick converts a panic inside the tick into an error so one bad cycle
// cannot take the loop down.
func (s *Scheduler) safeTick(ctx context.Context, tick TickFunc, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return tick(ctx, at)
}

func (s *Scheduler) untilBoundary(now time.Time) time.Duration {
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next.Sub(now)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
