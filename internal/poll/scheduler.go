// Package poll provides a cancellable interval-based retry driver. It backs
// device flow token polling (RFC 8628 section 3.4) and periodic usage refresh.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultSlowDownStep is the interval increase applied on slow_down
// per RFC 8628 section 3.5
const DefaultSlowDownStep = 5 * time.Second

// DefaultMaxInterval caps interval growth from repeated slow-down signals
const DefaultMaxInterval = 60 * time.Second

// MinInterval is the shortest wait New accepts between attempts
const MinInterval = time.Second

// ErrDeadlineExceeded is returned when the absolute deadline passes before
// the action reports a terminal outcome
var ErrDeadlineExceeded = errors.New("poll deadline exceeded")

type kind int

const (
	kindPending kind = iota
	kindSlowDown
	kindDone
	kindFailed
)

// Outcome is the result of a single action invocation
type Outcome[T any] struct {
	kind     kind
	value    T
	err      error
	interval time.Duration
}

// Pending asks the scheduler to invoke the action again after the interval
func Pending[T any]() Outcome[T] {
	return Outcome[T]{kind: kindPending}
}

// SlowDown is Pending with a request to lengthen the interval. The interval
// grows by the slow-down step, or to the given interval if that is larger.
// Pass zero when the provider did not name an interval.
func SlowDown[T any](interval time.Duration) Outcome[T] {
	return Outcome[T]{kind: kindSlowDown, interval: interval}
}

// Done stops the scheduler with a result
func Done[T any](v T) Outcome[T] {
	return Outcome[T]{kind: kindDone, value: v}
}

// Fail stops the scheduler with a terminal error
func Fail[T any](err error) Outcome[T] {
	return Outcome[T]{kind: kindFailed, err: err}
}

// Action is invoked once per attempt and never concurrently with itself
type Action[T any] func(ctx context.Context) Outcome[T]

// Scheduler holds the timing policy for a polling loop
type Scheduler struct {
	clock        clockwork.Clock
	interval     time.Duration
	maxInterval  time.Duration
	slowDownStep time.Duration
	deadline     time.Time
	logger       *zap.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for waits and deadline checks
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithMaxInterval caps how far slow-down signals may stretch the interval
func WithMaxInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.maxInterval = d
	}
}

// WithSlowDownStep sets the increase applied per slow-down signal
func WithSlowDownStep(d time.Duration) Option {
	return func(s *Scheduler) {
		s.slowDownStep = d
	}
}

// WithDeadline sets an absolute time after which polling stops with
// ErrDeadlineExceeded
func WithDeadline(t time.Time) Option {
	return func(s *Scheduler) {
		s.deadline = t
	}
}

// WithLogger sets the logger for attempt tracing
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler that waits interval between pending attempts.
// Intervals below MinInterval are raised to it.
func New(interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        clockwork.NewRealClock(),
		interval:     interval,
		maxInterval:  DefaultMaxInterval,
		slowDownStep: DefaultSlowDownStep,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.interval < MinInterval {
		s.interval = MinInterval
	}

	// The cap never shortens the interval the caller was given
	if s.maxInterval < s.interval {
		s.maxInterval = s.interval
	}

	return s
}

// Interval returns the starting interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run invokes action immediately and then once per interval until it
// returns Done or Fail, ctx is cancelled, or the deadline passes.
// Cancellation takes precedence over any outcome the action produced
// while ctx was being cancelled, and interrupts waits immediately.
func Run[T any](ctx context.Context, s *Scheduler, action Action[T]) (T, error) {
	var zero T
	interval := s.interval

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if s.expired() {
			return zero, ErrDeadlineExceeded
		}

		out := action(ctx)

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		switch out.kind {
		case kindDone:
			return out.value, nil
		case kindFailed:
			return zero, out.err
		case kindSlowDown:
			interval = s.slowDown(interval, out.interval)
			s.logger.Debug("slowing down",
				zap.Int("attempt", attempt),
				zap.Duration("interval", interval))
		}

		wait := interval
		if !s.deadline.IsZero() {
			remaining := s.deadline.Sub(s.clock.Now())
			if remaining <= 0 {
				return zero, ErrDeadlineExceeded
			}
			if remaining < wait {
				wait = remaining
			}
		}

		s.logger.Debug("waiting for next attempt",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		if err := s.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func (s *Scheduler) slowDown(current, requested time.Duration) time.Duration {
	next := current + s.slowDownStep
	if requested > next {
		next = requested
	}
	if next > s.maxInterval {
		next = s.maxInterval
	}
	if next < current {
		next = current
	}
	return next
}

func (s *Scheduler) expired() bool {
	return !s.deadline.IsZero() && !s.clock.Now().Before(s.deadline)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
