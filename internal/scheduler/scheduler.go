package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Tick describes one scheduled execution.
type Tick struct {
	Bucket time.Time
	// Elapsed is the wall time since the previous tick, or the configured interval on the first.
	Elapsed time.Duration
	// First is true for the first tick after Run starts.
	First bool
}

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, tick Tick) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	// RunOnStart fires one tick immediately instead of waiting for the first boundary.
	RunOnStart   bool
	StartupDelay time.Duration
}

// Scheduler drives periodic monitoring passes.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger(), now: time.Now}
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

	var last time.Time
	fire := func(bucket time.Time) {
		now := s.now()
		t := Tick{Bucket: bucket, Elapsed: s.opts.Interval, First: last.IsZero()}
		if !last.IsZero() {
			t.Elapsed = now.Sub(last)
		}
		last = now

		s.logger.Info().Time("bucket", bucket).Dur("elapsed", t.Elapsed).Msg("executing scheduled tick")
		if err := tick(ctx, t); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}
	}

	if s.opts.RunOnStart {
		fire(s.now().UTC())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	next := s.nextTick(s.now().UTC())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.nextTick(s.now().UTC())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		fire(s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
