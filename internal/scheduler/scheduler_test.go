package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type tickRecorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *tickRecorder) add(t time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, t)
	return len(r.times)
}

func TestRunFiresImmediatelyAndRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &tickRecorder{}
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if rec.add(at) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not tick three times")
	}
}

func TestRunRecoversFromPanicAndBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &tickRecorder{}
	s := New(Options{Interval: time.Hour, ErrorBackoff: 10 * time.Millisecond}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			n := rec.add(at)
			if n == 1 {
				panic("boom")
			}
			if n == 2 {
				return errors.New("transient")
			}
			cancel()
			return nil
		})
	}()

	// 如果没有使用 ErrorBackoff，第二次 tick 要等一小时
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not back off after failures")
	}
	if len(rec.times) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(rec.times))
	}
}

func TestUntilBoundary(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 0, 20, 0, time.UTC)
	if got := s.untilBoundary(now); got != 40*time.Second {
		t.Fatalf("expected 40s, got %s", got)
	}
	if got := s.untilBoundary(now.Truncate(time.Minute)); got != time.Minute {
		t.Fatalf("exact boundary should wait a full interval, got %s", got)
	}
}

func TestRunWaitsStartupDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{Interval: time.Hour, StartupDelay: 50 * time.Millisecond}, zerolog.Nop())
	start := time.Now()
	first := make(chan time.Duration, 1)
	go s.Run(ctx, func(ctx context.Context, at time.Time) error {
		first <- time.Since(start)
		cancel()
		return nil
	})

	select {
	case elapsed := <-first:
		if elapsed < 50*time.Millisecond {
			t.Fatalf("first tick after %s, want at least the startup delay", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ticked")
	}
}
