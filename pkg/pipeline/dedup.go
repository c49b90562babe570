package pipeline

import (
	"sync"
	"time"
)

const dedupCleanupInterval = 30 * time.Second

// Deduplicator tracks recently-seen message keys with a TTL, guarding
// against accidental re-delivery by channel adapters. Cleanup is
// opportunistic: it only sweeps when at least dedupCleanupInterval has
// passed since the last sweep, not on every event.
type Deduplicator struct {
	ttl time.Duration

	mu      sync.Mutex
	seen    map[string]time.Time
	lastGC  time.Time
	nowFunc func() time.Time
}

func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &Deduplicator{
		ttl:     ttl,
		seen:    map[string]time.Time{},
		nowFunc: time.Now,
	}
}

func dedupeKey(channel, chatID, messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	return channel + ":" + chatID + ":" + messageID, true
}

// Stage returns the deduplication middleware.
func (d *Deduplicator) Stage() Middleware {
	return func(c *Context, next func(*Context)) {
		key, ok := dedupeKey(c.Event.Channel, c.Event.ChatID, c.Event.MessageID)
		if !ok {
			next(c)
			return
		}

		now := d.nowFunc()
		d.mu.Lock()
		d.maybeCleanup(now)
		if seenAt, dup := d.seen[key]; dup && now.Sub(seenAt) < d.ttl {
			d.mu.Unlock()
			c.Emit(metricIntent("event_drop_duplicate", 1, nil))
			c.Halt()
			return
		}
		d.seen[key] = now
		d.mu.Unlock()

		next(c)
	}
}

// maybeCleanup must be called with d.mu held.
func (d *Deduplicator) maybeCleanup(now time.Time) {
	if !d.lastGC.IsZero() && now.Sub(d.lastGC) < dedupCleanupInterval {
		return
	}
	d.lastGC = now
	for k, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
