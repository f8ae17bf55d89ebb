package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnStartFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var ticks []Tick
	err := s.Run(ctx, func(_ context.Context, tick Tick) error {
		ticks = append(ticks, tick)
		cancel()
		return nil
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Len(t, ticks, 1)
	assert.True(t, ticks[0].First)
	assert.Equal(t, time.Hour, ticks[0].Elapsed)
}

func TestRunTicksAndReportsElapsed(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ticks []Tick
	err := s.Run(ctx, func(_ context.Context, tick Tick) error {
		ticks = append(ticks, tick)
		if len(ticks) == 3 {
			cancel()
		}
		return errors.New("logged and ignored")
	})
	require.Error(t, err)
	require.Len(t, ticks, 3)
	assert.True(t, ticks[0].First)
	assert.False(t, ticks[1].First)
	assert.Greater(t, ticks[1].Elapsed, time.Duration(0))
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), s.bucketStart(now))

	onBoundary := time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), s.nextTick(onBoundary))
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, Tick) error {
		t.Fatal("tick must not run")
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
