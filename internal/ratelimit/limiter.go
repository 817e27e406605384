package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"
)

// sweepInterval is how often idle limiter entries are purged.
const sweepInterval = 5 * time.Minute

// Result is the outcome of a rate-limit check. RetryAfter is only
// meaningful when Allowed is false and the key is blocked.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	timestamps   []time.Time
	blockedUntil time.Time
}

// Limiter is a sliding-window request counter keyed by
// (connection id, event type). A key that exceeds the window limit is
// blocked for a fixed duration; expiry of the block fully resets the
// counter.
type Limiter struct {
	window        time.Duration
	maxRequests   int
	blockDuration time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	// now is replaceable in tests
	now func() time.Time
}

func NewLimiter(window time.Duration, maxRequests int, blockDuration time.Duration) *Limiter {
	return &Limiter{
		window:        window,
		maxRequests:   maxRequests,
		blockDuration: blockDuration,
		entries:       make(map[string]*entry),
		now:           time.Now,
	}
}

func limiterKey(connID, eventType string) string {
	return fmt.Sprintf("%s:%s", connID, eventType)
}

// Allow records one request for (connID, eventType) and reports whether
// it is within the limit.
func (l *Limiter) Allow(connID, eventType string) Result {
	key := limiterKey(connID, eventType)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}

	// Drop timestamps that fell out of the window.
	cutoff := now.Add(-l.window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return Result{Allowed: false, RetryAfter: e.blockedUntil.Sub(now)}
		}
		// An expired block resets the counter, it does not merely unblock.
		e.blockedUntil = time.Time{}
		e.timestamps = e.timestamps[:0]
	}

	if len(e.timestamps) >= l.maxRequests {
		e.blockedUntil = now.Add(l.blockDuration)
		slog.Warn("Rate limit exceeded", "key", key, "blockedFor", l.blockDuration)
		return Result{Allowed: false, RetryAfter: l.blockDuration}
	}

	e.timestamps = append(e.timestamps, now)
	return Result{Allowed: true}
}

// RemoveClient drops every entry belonging to a connection. Called
// synchronously on disconnect so memory is reclaimed without waiting
// for the sweep.
func (l *Limiter) RemoveClient(connID string) {
	prefix := connID + ":"

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.entries, key)
		}
	}
}

// Run sweeps idle entries until the context is canceled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			slog.Debug("Rate limiter sweep stopped")
			return
		}
	}
}

// sweep purges keys with no recent timestamps and no active block,
// bounding memory under connection churn.
func (l *Limiter) sweep() {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
			continue
		}

		live := false
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("Rate limiter sweep completed", "removed", removed, "remaining", len(l.entries))
	}
}

// size reports the number of tracked keys. Test helper.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
