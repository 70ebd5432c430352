package ratelimit

import (
	"context"
	"sync"
	"time"
)

// accountWindow tracks how many generate requests one limiter key made in
// the current second.
type accountWindow struct {
	second int64
	count  int
}

// MemoryLimiter counts requests per account in fixed one-second windows.
// It serves single-instance deployments and any window where the Redis
// backend is unreachable.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]accountWindow
	sweptAt int64
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]accountWindow)}
}

// Allow records the request against the key's current window and reports
// whether it stays within limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	second := now.Unix()
	reset := time.Unix(second+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(second)

	win := l.windows[key]
	if win.second != second {
		win = accountWindow{second: second}
	}
	if win.count >= limit {
		l.windows[key] = win
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	win.count++
	l.windows[key] = win
	return Result{Allowed: true, Remaining: limit - win.count, Reset: reset}, nil
}

// sweep drops windows from past seconds so idle accounts do not accumulate
// entries. Runs at most once per second.
func (l *MemoryLimiter) sweep(second int64) {
	if l.sweptAt == second {
		return
	}
	l.sweptAt = second
	for key, win := range l.windows {
		if win.second < second {
			delete(l.windows, key)
		}
	}
}
