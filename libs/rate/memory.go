package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter is a per-process fixed window limiter with the same window
// semantics as RedisLimiter: a window expires exactly at its reset time.
type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	entries     map[string]*entry
	nextCleanup time.Time
}

type entry struct {
	count int
	reset time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		entries: map[string]*entry{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	if l.window <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit window")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Sweeps follow the caller's clock, at most once per window.
	if !now.Before(l.nextCleanup) {
		for k, e := range l.entries {
			if !now.Before(e.reset) {
				delete(l.entries, k)
			}
		}
		l.nextCleanup = now.Add(l.window)
	}

	e, ok := l.entries[key]
	if !ok || !now.Before(e.reset) {
		l.entries[key] = &entry{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}

	if e.count >= l.limit {
		return false, e.reset.Sub(now), nil
	}

	e.count++
	return true, 0, nil
}
