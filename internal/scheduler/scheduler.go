package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one cycle. A non-nil error adds the error backoff on top of
// the next wait.
type TickFunc func(ctx context.Context) error

// IntervalFunc reports the current poll interval. It is consulted after every
// cycle so a config reload takes effect on the next wait.
type IntervalFunc func() time.Duration

// Options tune scheduler behaviour.
type Options struct {
	ErrorBackoff time.Duration
	StartupDelay time.Duration
}

// Scheduler drives a single-flight polling loop: the next cycle is armed only
// after the previous one returned.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.ErrorBackoff <= 0 {
		panic("scheduler error backoff must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick until ctx is cancelled. The first cycle runs
// right after the startup delay.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc, interval IntervalFunc) error {
	if err := sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		err := tick(ctx)

		delay := max(interval(), 0)
		if err != nil {
			// A failed cycle always waits longer than a normal one.
			delay += s.opts.ErrorBackoff
			s.logger.Error().Err(err).Dur("wait", delay).Msg("cycle failed")
		}
		if delay <= 0 {
			delay = s.opts.ErrorBackoff
		}

		s.logger.Debug().
			Dur("elapsed", time.Since(started)).
			Time("next_cycle", time.Now().Add(delay)).
			Msg("waiting for next cycle")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
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
