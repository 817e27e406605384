package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures every Send for inspection. Safe for
// concurrent use.
type recordingSender struct {
	mu    sync.Mutex
	sends []sentMessage
	// refuse lists connIDs whose sends should report failure
	refuse map[string]bool
}

type sentMessage struct {
	ConnID string
	Event  EventName
	Data   interface{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{refuse: make(map[string]bool)}
}

func (s *recordingSender) Send(connID string, event EventName, data interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sentMessage{ConnID: connID, Event: event, Data: data})
	return !s.refuse[connID]
}

func (s *recordingSender) sentTo(connID string, event EventName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sends {
		if m.ConnID == connID && m.Event == event {
			n++
		}
	}
	return n
}

func TestAddTrackerConflict(t *testing.T) {
	reg := NewRegistry(newRecordingSender())

	require.NoError(t, reg.AddTracker("7", "conn-a", "sess-a"))
	assert.True(t, reg.HasTracker("7"))

	// A second tracker, and even the same connection again, must be
	// refused while the binding is live.
	assert.ErrorIs(t, reg.AddTracker("7", "conn-b", "sess-b"), ErrTrackerConflict)
	assert.ErrorIs(t, reg.AddTracker("7", "conn-a", "sess-a"), ErrTrackerConflict)

	// A different bus is unaffected.
	require.NoError(t, reg.AddTracker("8", "conn-b", "sess-b"))
}

func TestRemoveTrackerOwnership(t *testing.T) {
	reg := NewRegistry(newRecordingSender())
	require.NoError(t, reg.AddTracker("7", "conn-a", "sess-a"))
	reg.AddConsumer("7", "watcher")

	// A non-owner cannot clear the binding.
	assert.False(t, reg.RemoveTracker("7", "conn-b"))
	assert.True(t, reg.HasTracker("7"))

	assert.True(t, reg.RemoveTracker("7", "conn-a"))
	assert.False(t, reg.HasTracker("7"))

	// Second removal is a stale race and a no-op.
	assert.False(t, reg.RemoveTracker("7", "conn-a"))

	// Room survived because a consumer is still watching.
	assert.Equal(t, 1, reg.ConsumerCount("7"))
}

func TestRemoveTrackerDeletesEmptyRoom(t *testing.T) {
	reg := NewRegistry(newRecordingSender())
	require.NoError(t, reg.AddTracker("7", "conn-a", "sess-a"))
	require.Equal(t, 1, reg.RoomCount())

	assert.True(t, reg.RemoveTracker("7", "conn-a"))
	assert.Equal(t, 0, reg.RoomCount())
}

func TestConsumerMembershipIsIdempotent(t *testing.T) {
	reg := NewRegistry(newRecordingSender())

	count, added := reg.AddConsumer("3", "c1")
	assert.Equal(t, 1, count)
	assert.True(t, added)

	count, added = reg.AddConsumer("3", "c2")
	assert.Equal(t, 2, count)
	assert.True(t, added)

	// Same member again: unchanged count, and callers are told the set
	// did not grow so they skip re-announcing.
	count, added = reg.AddConsumer("3", "c1")
	assert.Equal(t, 2, count)
	assert.False(t, added)

	count, err := reg.RemoveConsumer("3", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Removing an absent member does not go negative.
	count, err = reg.RemoveConsumer("3", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = reg.RemoveConsumer("99", "c1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestBroadcastReachesOnlyConsumers(t *testing.T) {
	sender := newRecordingSender()
	reg := NewRegistry(sender)

	require.NoError(t, reg.AddTracker("5", "tracker-conn", "sess"))
	reg.AddConsumer("5", "c1")
	reg.AddConsumer("5", "c2")
	reg.AddConsumer("6", "other-bus")

	sent := reg.BroadcastToConsumers("5", EventLocationUpdated, "payload")
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, sender.sentTo("c1", EventLocationUpdated))
	assert.Equal(t, 1, sender.sentTo("c2", EventLocationUpdated))
	assert.Zero(t, sender.sentTo("tracker-conn", EventLocationUpdated))
	assert.Zero(t, sender.sentTo("other-bus", EventLocationUpdated))

	assert.Zero(t, reg.BroadcastToConsumers("99", EventLocationUpdated, nil))
}

func TestBroadcastCountsOnlyDeliveries(t *testing.T) {
	sender := newRecordingSender()
	sender.refuse["gone"] = true
	reg := NewRegistry(sender)

	reg.AddConsumer("5", "c1")
	reg.AddConsumer("5", "gone")

	assert.Equal(t, 1, reg.BroadcastToConsumers("5", EventLocationUpdated, nil))
}

func TestNotifyTracker(t *testing.T) {
	sender := newRecordingSender()
	reg := NewRegistry(sender)

	assert.False(t, reg.NotifyTracker("5", EventConsumerJoined, nil))

	require.NoError(t, reg.AddTracker("5", "tracker-conn", "sess"))
	assert.True(t, reg.NotifyTracker("5", EventConsumerJoined, nil))
	assert.Equal(t, 1, sender.sentTo("tracker-conn", EventConsumerJoined))
}

func TestSweepRemovesOnlyIdleEmptyRooms(t *testing.T) {
	reg := NewRegistry(newRecordingSender())
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	// Room with a tracker, room with a consumer, and a room that will
	// be drained and left idle.
	require.NoError(t, reg.AddTracker("1", "t1", "s1"))
	reg.AddConsumer("2", "c1")
	reg.AddConsumer("3", "c2")
	_, err := reg.RemoveConsumer("3", "c2")
	require.NoError(t, err)
	require.Equal(t, 3, reg.RoomCount())

	// Not idle long enough yet.
	clock = clock.Add(10 * time.Minute)
	assert.Zero(t, reg.Sweep(30*time.Minute))

	clock = clock.Add(25 * time.Minute)
	assert.Equal(t, 1, reg.Sweep(30*time.Minute))
	assert.Equal(t, 2, reg.RoomCount())
	assert.True(t, reg.HasTracker("1"))
	assert.Equal(t, 1, reg.ConsumerCount("2"))
}

func TestSweepSparesRecentlyTouchedRoom(t *testing.T) {
	reg := NewRegistry(newRecordingSender())
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	reg.AddConsumer("4", "c1")
	_, err := reg.RemoveConsumer("4", "c1")
	require.NoError(t, err)

	clock = clock.Add(29 * time.Minute)
	reg.Touch("4")

	clock = clock.Add(5 * time.Minute)
	assert.Zero(t, reg.Sweep(30*time.Minute))
	assert.Equal(t, 1, reg.RoomCount())
}

func TestTouchRecreatesSweptRoom(t *testing.T) {
	reg := NewRegistry(newRecordingSender())

	reg.Touch("9")
	assert.Equal(t, 1, reg.RoomCount())
}

func TestStats(t *testing.T) {
	reg := NewRegistry(newRecordingSender())
	require.NoError(t, reg.AddTracker("A2", "t1", "s1"))
	reg.AddConsumer("A2", "c1")
	reg.AddConsumer("A2", "c2")

	stats := reg.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "A2", stats[0].BusID)
	assert.Equal(t, 2, stats[0].ConsumerCount)
	assert.True(t, stats[0].HasTracker)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	reg := NewRegistry(newRecordingSender())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := string(rune('a' + n))
			for j := 0; j < 200; j++ {
				reg.AddConsumer("10", connID)
				reg.BroadcastToConsumers("10", EventLocationUpdated, j)
				reg.RemoveConsumer("10", connID)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, reg.ConsumerCount("10"))
}
