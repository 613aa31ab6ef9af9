package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked senders to prevent
	// memory exhaustion from senders rotating IDs.
	maxTrackedKeys = 4096

	// idleAfter is how long a sender must be quiet before its bucket is pruned.
	idleAfter = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InboundLimiter is a per-sender token bucket guarding the inbound pipeline.
// Safe for concurrent use.
type InboundLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewInboundLimiter allows perMinute messages per sender, refilled evenly.
// Returns nil when perMinute <= 0 (disabled).
func NewInboundLimiter(perMinute int) *InboundLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &InboundLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		now:     time.Now,
	}
}

// Allow reports whether key may send another message now.
// A nil limiter allows everything.
func (l *InboundLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxTrackedKeys {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune drops idle senders, then evicts arbitrarily if still at the cap.
func (l *InboundLimiter) prune(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= idleAfter {
			delete(l.entries, k)
		}
	}
	for k := range l.entries {
		if len(l.entries) < maxTrackedKeys {
			break
		}
		delete(l.entries, k)
	}
}

// Len returns the number of tracked senders.
func (l *InboundLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
