package policyadmin

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a per-caller commands-per-minute budget
// using a monotonic-timestamp deque rather than golang.org/x/time/rate:
// the budget here is a simple rolling count, not a token-bucket refill
// rate, and a hand-rolled deque makes that distinction explicit (see
// DESIGN.md).
type slidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	calls map[string][]time.Time

	nowFunc func() time.Time
}

func newSlidingWindowLimiter(limit int) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limit:   limit,
		window:  time.Minute,
		calls:   map[string][]time.Time{},
		nowFunc: time.Now,
	}
}

// Allow reports whether caller may issue another command now, recording the
// attempt when allowed.
func (l *slidingWindowLimiter) Allow(caller string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.calls[caller]
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.calls[caller] = kept
		return false
	}
	l.calls[caller] = append(kept, now)
	return true
}
