package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps counters in process memory. Suitable for a single instance and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	nowF    func() time.Time
}

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; tests only.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowF = now
}

// Hit increments the counter for key, starting a new window when the previous one ended.
func (l *MemoryLimiter) Hit(ctx context.Context, key string, rule Rule) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(rule.Window)) {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return Result{
		Allowed:    w.count <= rule.Limit,
		Count:      w.count,
		RetryAfter: w.start.Add(rule.Window).Sub(now),
	}, nil
}

// Sweep drops windows that started more than maxWindow ago.
func (l *MemoryLimiter) Sweep(maxWindow time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.start.Add(maxWindow)) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}
