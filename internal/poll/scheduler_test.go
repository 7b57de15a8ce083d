package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"
)

type result struct {
	value string
	err   error
}

func runAsync(ctx context.Context, s *Scheduler, action Action[string]) <-chan result {
	done := make(chan result, 1)
	go func() {
		v, err := Run(ctx, s, action)
		done <- result{v, err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not terminate")
		return result{}
	}
}

func TestRunPendingThenDone(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(10*time.Second, WithClock(clock), WithLogger(zaptest.NewLogger(t)))

	var calls atomic.Int32
	done := runAsync(context.Background(), s, func(ctx context.Context) Outcome[string] {
		if calls.Add(1) < 4 {
			return Pending[string]()
		}
		return Done("token")
	})

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("Run() error = %v", r.err)
	}
	if r.value != "token" {
		t.Errorf("Run() = %q, want %q", r.value, "token")
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("action invoked %d times, want 4", got)
	}
}

func TestRunWaitsFullInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(10*time.Second, WithClock(clock))

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runAsync(ctx, s, func(ctx context.Context) Outcome[string] {
		calls.Add(1)
		return Pending[string]()
	})

	clock.BlockUntil(1)
	clock.Advance(10*time.Second - time.Millisecond)

	// The timer must still be pending one millisecond short of the interval
	clock.BlockUntil(1)
	if got := calls.Load(); got != 1 {
		t.Fatalf("action invoked %d times before interval elapsed, want 1", got)
	}

	clock.Advance(time.Millisecond)
	clock.BlockUntil(1)
	if got := calls.Load(); got != 2 {
		t.Errorf("action invoked %d times after interval, want 2", got)
	}

	cancel()
	if r := waitResult(t, done); !errors.Is(r.err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", r.err)
	}
}

func TestNewClampsInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -5 * time.Second, time.Millisecond} {
		if got := New(interval).Interval(); got != MinInterval {
			t.Errorf("New(%v).Interval() = %v, want %v", interval, got, MinInterval)
		}
	}
}

func TestRunZeroIntervalWaits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(0, WithClock(clock))

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runAsync(ctx, s, func(ctx context.Context) Outcome[string] {
		calls.Add(1)
		return Pending[string]()
	})

	clock.BlockUntil(1)
	if got := calls.Load(); got != 1 {
		t.Fatalf("action invoked %d times before any wait, want 1", got)
	}

	clock.Advance(MinInterval)
	clock.BlockUntil(1)
	if got := calls.Load(); got != 2 {
		t.Errorf("action invoked %d times after %v, want 2", got, MinInterval)
	}

	cancel()
	if r := waitResult(t, done); !errors.Is(r.err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", r.err)
	}
}

func TestRunFailStopsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(time.Second, WithClock(clock))
	wantErr := errors.New("denied")

	var calls int
	_, err := Run(context.Background(), s, func(ctx context.Context) Outcome[string] {
		calls++
		return Fail[string](wantErr)
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("action invoked %d times, want 1", calls)
	}
}

func TestRunCancelDuringWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(30*time.Second, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := runAsync(ctx, s, func(ctx context.Context) Outcome[string] {
		// A later attempt would succeed, cancellation must win
		if calls.Add(1) > 1 {
			return Done("token")
		}
		return Pending[string]()
	})

	clock.BlockUntil(1)
	cancel()

	r := waitResult(t, done)
	if !errors.Is(r.err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", r.err)
	}
	if r.value != "" {
		t.Errorf("Run() = %q after cancel, want empty", r.value)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("action invoked %d times, want 1", got)
	}
}

func TestRunCancelDuringAction(t *testing.T) {
	s := New(time.Second, WithClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Run(ctx, s, func(ctx context.Context) Outcome[string] {
		cancel()
		return Done("token")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	s := New(time.Second, WithClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, err := Run(ctx, s, func(ctx context.Context) Outcome[string] {
		calls++
		return Done("token")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("action invoked %d times, want 0", calls)
	}
}

func TestRunDeadlineBeforeSecondAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(10*time.Second,
		WithClock(clock),
		WithDeadline(clock.Now().Add(5*time.Second)))

	var calls atomic.Int32
	done := runAsync(context.Background(), s, func(ctx context.Context) Outcome[string] {
		calls.Add(1)
		return Pending[string]()
	})

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	r := waitResult(t, done)
	if !errors.Is(r.err, ErrDeadlineExceeded) {
		t.Errorf("Run() error = %v, want ErrDeadlineExceeded", r.err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("action invoked %d times, want 1", got)
	}
}

func TestRunDeadlineAlreadyPassed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(time.Second, WithClock(clock), WithDeadline(clock.Now()))

	var calls int
	_, err := Run(context.Background(), s, func(ctx context.Context) Outcome[string] {
		calls++
		return Done("token")
	})
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Errorf("Run() error = %v, want ErrDeadlineExceeded", err)
	}
	if calls != 0 {
		t.Errorf("action invoked %d times, want 0", calls)
	}
}

func TestSlowDown(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		max       time.Duration
		current   time.Duration
		requested time.Duration
		want      time.Duration
	}{
		{"default step", 5 * time.Second, time.Minute, 5 * time.Second, 0, 10 * time.Second},
		{"server interval larger", 5 * time.Second, time.Minute, 5 * time.Second, 20 * time.Second, 20 * time.Second},
		{"server interval smaller", 5 * time.Second, time.Minute, 15 * time.Second, time.Second, 20 * time.Second},
		{"capped", 5 * time.Second, 12 * time.Second, 10 * time.Second, 0, 12 * time.Second},
		{"server interval capped", 5 * time.Second, 12 * time.Second, 5 * time.Second, time.Minute, 12 * time.Second},
		{"initial above cap", 90 * time.Second, time.Minute, 90 * time.Second, 0, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.interval, WithMaxInterval(tt.max))
			if got := s.slowDown(tt.current, tt.requested); got != tt.want {
				t.Errorf("slowDown(%v, %v) = %v, want %v", tt.current, tt.requested, got, tt.want)
			}
		})
	}
}

func TestRunSlowDownLengthensWaits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(5*time.Second, WithClock(clock), WithMaxInterval(12*time.Second))

	var calls atomic.Int32
	done := runAsync(context.Background(), s, func(ctx context.Context) Outcome[string] {
		if calls.Add(1) < 4 {
			return SlowDown[string](0)
		}
		return Done("token")
	})

	// 5s -> 10s -> 12s (capped) -> 12s
	for _, wait := range []time.Duration{10 * time.Second, 12 * time.Second, 12 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(wait - time.Millisecond)
		clock.BlockUntil(1)
		clock.Advance(time.Millisecond)
	}

	r := waitResult(t, done)
	if r.err != nil || r.value != "token" {
		t.Fatalf("Run() = %q, %v; want token, nil", r.value, r.err)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("action invoked %d times, want 4", got)
	}
}
