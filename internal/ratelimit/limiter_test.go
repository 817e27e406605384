package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step time deterministically.
type fakeClock struct {
	current time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.current
}

func (f *fakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func newTestLimiter(window time.Duration, max int, block time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	l := NewLimiter(window, max, block)
	l.now = clock.Now
	return l, clock
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Second, 3, 5*time.Second)

	for i := 0; i < 3; i++ {
		res := l.Allow("conn-1", "location-update")
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}
}

func TestFourthRapidRequestIsBlocked(t *testing.T) {
	l, _ := newTestLimiter(time.Second, 3, 5*time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("conn-1", "location-update").Allowed)
	}

	res := l.Allow("conn-1", "location-update")
	assert.False(t, res.Allowed)
	assert.Equal(t, 5*time.Second, res.RetryAfter)
}

func TestBlockReportsRemainingTime(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 1, 10*time.Second)

	require.True(t, l.Allow("conn-1", "location-update").Allowed)
	require.False(t, l.Allow("conn-1", "location-update").Allowed)

	clock.Advance(4 * time.Second)
	res := l.Allow("conn-1", "location-update")
	assert.False(t, res.Allowed)
	assert.Equal(t, 6*time.Second, res.RetryAfter)
}

func TestExpiredBlockResetsCounter(t *testing.T) {
	l, clock := newTestLimiter(10*time.Second, 2, 3*time.Second)

	require.True(t, l.Allow("conn-1", "location-update").Allowed)
	require.True(t, l.Allow("conn-1", "location-update").Allowed)
	require.False(t, l.Allow("conn-1", "location-update").Allowed)

	// After the block expires the counter starts fresh even though the
	// original timestamps are still inside the window.
	clock.Advance(4 * time.Second)
	assert.True(t, l.Allow("conn-1", "location-update").Allowed)
	assert.True(t, l.Allow("conn-1", "location-update").Allowed)
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 2, 5*time.Second)

	require.True(t, l.Allow("conn-1", "location-update").Allowed)
	require.True(t, l.Allow("conn-1", "location-update").Allowed)

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, l.Allow("conn-1", "location-update").Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Second, 1, 5*time.Second)

	require.True(t, l.Allow("conn-1", "location-update").Allowed)
	require.False(t, l.Allow("conn-1", "location-update").Allowed)

	// Different connection and different event type are untouched.
	assert.True(t, l.Allow("conn-2", "location-update").Allowed)
	assert.True(t, l.Allow("conn-1", "join-bus-room").Allowed)
}

func TestRemoveClient(t *testing.T) {
	l, _ := newTestLimiter(time.Second, 1, 5*time.Second)

	l.Allow("conn-1", "location-update")
	l.Allow("conn-1", "join-bus-room")
	l.Allow("conn-2", "location-update")
	require.Equal(t, 3, l.size())

	l.RemoveClient("conn-1")
	assert.Equal(t, 1, l.size())

	// Removal clears any block for the connection.
	assert.True(t, l.Allow("conn-1", "location-update").Allowed)
}

func TestSweepPurgesIdleEntries(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 3, 5*time.Second)

	l.Allow("conn-1", "location-update")
	l.Allow("conn-2", "location-update")
	require.Equal(t, 2, l.size())

	clock.Advance(2 * time.Second)
	l.sweep()
	assert.Equal(t, 0, l.size())
}

func TestSweepKeepsBlockedEntries(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 1, time.Minute)

	l.Allow("conn-1", "location-update")
	require.False(t, l.Allow("conn-1", "location-update").Allowed)

	clock.Advance(5 * time.Second)
	l.sweep()
	assert.Equal(t, 1, l.size())

	res := l.Allow("conn-1", "location-update")
	assert.False(t, res.Allowed)
}
