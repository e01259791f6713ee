// Package ratelimit spaces upstream requests across a whole crawl run. A
// request may start once the interval has passed since the previous one
// started, or since it finished when the caller reports completion with
// Done.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the current time and a cancellable sleep. Tests replace it
// with a fake that advances instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter allows one request per interval with no burst.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	clock    Clock
	observe  func(time.Duration)
	logger   *slog.Logger
}

type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithObserver registers a callback that receives every wait duration,
// including zero waits.
func WithObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.observe = fn }
}

// New creates a Limiter. An interval of zero disables throttling.
func New(interval time.Duration, opts ...Option) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	l := &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		clock:    realClock{},
		logger:   slog.Default().With("component", "upstream-limiter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until a request may be issued and stamps that slot. It only
// fails when ctx is done first, in which case the slot is released.
func (l *Limiter) Wait(ctx context.Context) error {
	now := l.clock.Now()
	l.mu.Lock()
	r := l.limiter.ReserveN(now, 1)
	l.mu.Unlock()
	if !r.OK() {
		return fmt.Errorf("reserving upstream slot: interval %v cannot be satisfied", l.interval)
	}
	delay := r.DelayFrom(now)
	if l.observe != nil {
		l.observe(delay)
	}
	if delay <= 0 {
		return nil
	}
	l.logger.Debug("sleeping before upstream request", "delay", delay)
	if err := l.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(l.clock.Now())
		return fmt.Errorf("waiting for upstream slot: %w", err)
	}
	return nil
}

// Done stamps the end of a request: the next slot opens one interval after
// now, however long the request took.
func (l *Limiter) Done() {
	if l.interval <= 0 {
		return
	}
	fresh := rate.NewLimiter(rate.Every(l.interval), 1)
	fresh.ReserveN(l.clock.Now(), 1)
	l.mu.Lock()
	l.limiter = fresh
	l.mu.Unlock()
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
