package limiter

import (
	"context"
	"sync"
	"time"
)

// Timer is the time source shared by the limiter, the fetcher and crawl statistics.
type Timer interface {
	Now() time.Time
	Sleep(ctx context.Context, duration time.Duration) error
}

// Interval converts the crawl politeness settings into one spacing between requests.
// The stricter of a fixed delay and a requests-per-second cap wins.
func Interval(delay time.Duration, rps float64) time.Duration {
	interval := max(delay, 0)

	if rps > 0 {
		interval = max(interval, time.Duration(float64(time.Second)/rps))
	}

	return interval
}

// Limiter spaces out requests across all workers of a crawl.
// A nil *Limiter never waits.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	clock    Timer
}

// New creates a limiter using real time. It returns nil for a non-positive interval.
func New(interval time.Duration) *Limiter {
	return NewWithTimer(interval, nil)
}

// NewWithTimer creates a limiter driven by clock.
func NewWithTimer(interval time.Duration, clock Timer) *Limiter {
	if interval <= 0 {
		return nil
	}

	if clock == nil {
		clock = Clock{}
	}

	return &Limiter{
		interval: interval,
		clock:    clock,
	}
}

// Wait reserves the next request slot and sleeps until it arrives.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	now := l.clock.Now()

	next := l.last.Add(l.interval)
	if l.last.IsZero() || !now.Before(next) {
		l.last = now
		l.mu.Unlock()

		return nil
	}

	l.last = next
	l.mu.Unlock()

	return l.clock.Sleep(ctx, next.Sub(now))
}
