// Package ratelimit bounds outbound RPC calls to N per rolling second.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"solana-refunder/internal/observability"
)

// Window is the span over which at most N acquisitions may complete.
const Window = time.Second

// ErrInvalidLimit is returned when the limit is not positive.
var ErrInvalidLimit = errors.New("rate limit must be > 0")

// Clock abstracts time so waits can be tested without real timers.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Limiter admits at most n acquisitions within any contiguous Window.
// It keeps the completion times of the last n acquisitions in a ring; the
// oldest entry is the start of the current window.
type Limiter struct {
	mu     sync.Mutex
	clock  Clock
	n      int
	stamps []time.Time // ring of the last n acquisition times
	next   int         // index of the oldest stamp once the ring is full
	count  int         // stamps recorded, capped at n

	waits uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used for time and sleeping.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a limiter allowing n acquisitions per second.
func New(n int, opts ...Option) (*Limiter, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	l := &Limiter{
		clock:  realClock{},
		n:      n,
		stamps: make([]time.Time, n),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Limit returns the configured acquisitions per window.
func (l *Limiter) Limit() int {
	return l.n
}

// Waits returns how many times callers had to sleep for a slot.
func (l *Limiter) Waits() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waits
}

// Acquire blocks until a slot is free and reserves it.
// There is no cancellation; a caller waits at most one Window per contender ahead of it.
func (l *Limiter) Acquire() {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return
		}
		observability.RecordRateLimiterWait()
		l.clock.Sleep(wait)
	}
}

// tryAcquire reserves a slot or reports how long until the oldest slot expires.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	if l.count < l.n {
		l.stamps[(l.next+l.count)%l.n] = now
		l.count++
		return 0, true
	}

	windowStart := l.stamps[l.next]
	elapsed := now.Sub(windowStart)
	if elapsed >= Window {
		l.stamps[l.next] = now
		l.next = (l.next + 1) % l.n
		return 0, true
	}

	l.waits++
	return Window - elapsed, false
}
