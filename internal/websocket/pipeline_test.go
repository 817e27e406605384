package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/models"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/ratelimit"
)

// memorySessionStore is an in-memory SessionStore for pipeline tests.
type memorySessionStore struct {
	mu          sync.Mutex
	active      map[string]bool
	buses       map[string]string
	persisted   []models.LocationSample
	failPersist error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		active: make(map[string]bool),
		buses:  make(map[string]string),
	}
}

func (s *memorySessionStore) addSession(sessionID, busID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sessionID] = true
	s.buses[sessionID] = busID
}

func (s *memorySessionStore) IsActive(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[sessionID], nil
}

func (s *memorySessionStore) BusID(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bus, ok := s.buses[sessionID]
	if !ok {
		return "", errors.New("unknown session")
	}
	return bus, nil
}

func (s *memorySessionStore) PersistLocation(_ context.Context, sample models.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPersist != nil {
		return s.failPersist
	}
	s.persisted = append(s.persisted, sample)
	return nil
}

func (s *memorySessionStore) End(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sessionID] = false
	return nil
}

func (s *memorySessionStore) persistedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

// recordingFeed captures published feed events.
type recordingFeed struct {
	mu     sync.Mutex
	events []string
}

func (f *recordingFeed) Publish(_ context.Context, eventType string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *recordingFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type pipelineFixture struct {
	pipeline *Pipeline
	sessions *memorySessionStore
	sender   *recordingSender
	registry *Registry
	feed     *recordingFeed
	clock    time.Time
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	sender := newRecordingSender()
	registry := NewRegistry(sender)
	sessions := newMemorySessionStore()
	feed := &recordingFeed{}
	limiter := ratelimit.NewLimiter(time.Second, 3, 5*time.Second)

	f := &pipelineFixture{
		sessions: sessions,
		sender:   sender,
		registry: registry,
		feed:     feed,
		clock:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.pipeline = NewPipeline(limiter, sessions, registry, feed, 5*time.Minute)
	f.pipeline.now = func() time.Time { return f.clock }
	return f
}

func (f *pipelineFixture) sample() models.LocationSample {
	return models.LocationSample{
		BusID:     "7",
		SessionID: "sess-1",
		Latitude:  17.385,
		Longitude: 78.4867,
		Accuracy:  12.5,
		Timestamp: f.clock.UnixMilli(),
	}
}

func trackerConn(busID, sessionID string) *Connection {
	return &Connection{ID: "tracker-conn", Role: RoleTracker, BusID: busID, sessionID: sessionID}
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	require.NoError(t, f.registry.AddTracker("7", "tracker-conn", "sess-1"))
	f.registry.AddConsumer("7", "c1")
	f.registry.AddConsumer("7", "c2")

	ack, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	require.NoError(t, err)

	assert.True(t, ack.Processed)
	assert.Equal(t, "7", ack.BusID)
	assert.Equal(t, f.clock.UnixMilli(), ack.ServerTimestamp)

	assert.Equal(t, 1, f.sessions.persistedCount())
	assert.Equal(t, 1, f.sender.sentTo("c1", EventLocationUpdated))
	assert.Equal(t, 1, f.sender.sentTo("c2", EventLocationUpdated))
	assert.Equal(t, 1, f.feed.count())
}

func TestPipelineBroadcastsConsumerProjection(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	f.registry.AddConsumer("7", "c1")

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	require.NoError(t, err)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.sends, 1)

	// Consumers receive the projected payload. The raw sample carries
	// the session id and must stay server-side.
	got, ok := f.sender.sends[0].Data.(LocationBroadcast)
	require.True(t, ok, "broadcast payload is %T, want LocationBroadcast", f.sender.sends[0].Data)
	assert.Equal(t, "7", got.BusID)
	assert.InDelta(t, 17.385, got.Latitude, 1e-9)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sessionId")
	assert.NotContains(t, string(raw), "sess-1")
}

func TestPipelineValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.LocationSample)
		field  string
	}{
		{"empty bus", func(s *models.LocationSample) { s.BusID = "" }, "busId"},
		{"unknown bus", func(s *models.LocationSample) { s.BusID = "D1" }, "busId"},
		{"missing session", func(s *models.LocationSample) { s.SessionID = "" }, "sessionId"},
		{"latitude low", func(s *models.LocationSample) { s.Latitude = -90.1 }, "latitude"},
		{"latitude high", func(s *models.LocationSample) { s.Latitude = 90.1 }, "latitude"},
		{"longitude low", func(s *models.LocationSample) { s.Longitude = -180.1 }, "longitude"},
		{"longitude high", func(s *models.LocationSample) { s.Longitude = 180.1 }, "longitude"},
		{"accuracy negative", func(s *models.LocationSample) { s.Accuracy = -1 }, "accuracy"},
		{"accuracy high", func(s *models.LocationSample) { s.Accuracy = 100.5 }, "accuracy"},
		{"zero timestamp", func(s *models.LocationSample) { s.Timestamp = 0 }, "timestamp"},
		{"negative timestamp", func(s *models.LocationSample) { s.Timestamp = -1 }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			f.sessions.addSession("sess-1", "7")
			f.registry.AddConsumer("7", "c1")

			sample := f.sample()
			tt.mutate(&sample)

			_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), sample)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			// Rejection means nothing persisted and nothing delivered.
			assert.Zero(t, f.sessions.persistedCount())
			assert.Zero(t, f.sender.sentTo("c1", EventLocationUpdated))
			assert.Zero(t, f.feed.count())
		})
	}
}

func TestPipelineBoundaryCoordinatesAccepted(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")

	sample := f.sample()
	sample.Latitude = 90
	sample.Longitude = -180
	sample.Accuracy = 100

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), sample)
	require.NoError(t, err)

	sample = f.sample()
	sample.Latitude = -90
	sample.Longitude = 180
	sample.Accuracy = 0

	_, err = f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), sample)
	require.NoError(t, err)
}

func TestPipelineStaleSampleRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")

	sample := f.sample()
	sample.Timestamp = f.clock.Add(-5*time.Minute - time.Second).UnixMilli()

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), sample)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)

	// Exactly at the cutoff is still acceptable.
	sample.Timestamp = f.clock.Add(-5 * time.Minute).UnixMilli()
	_, err = f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), sample)
	require.NoError(t, err)
}

func TestPipelineExpiredSession(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	require.NoError(t, f.sessions.End(context.Background(), "sess-1"))
	f.registry.AddConsumer("7", "c1")

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, f.sessions.persistedCount())
	assert.Zero(t, f.sender.sentTo("c1", EventLocationUpdated))
}

func TestPipelineBusMismatch(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "8")

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	assert.ErrorIs(t, err, ErrBusMismatch)
	assert.Zero(t, f.sessions.persistedCount())
}

func TestPipelinePersistenceFailureStopsBroadcast(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	f.sessions.failPersist = errors.New("database down")
	f.registry.AddConsumer("7", "c1")

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	require.Error(t, err)
	assert.Zero(t, f.sender.sentTo("c1", EventLocationUpdated))
	assert.Zero(t, f.feed.count())
}

func TestPipelineRateLimit(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	conn := trackerConn("7", "sess-1")

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.Process(context.Background(), conn, f.sample())
		require.NoError(t, err)
	}

	// Fourth rapid update is throttled before validation runs.
	_, err := f.pipeline.Process(context.Background(), conn, f.sample())
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	assert.Equal(t, 3, f.sessions.persistedCount())
}

func TestPipelineRateLimitIsPerConnection(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")
	f.sessions.addSession("sess-2", "8")

	a := trackerConn("7", "sess-1")
	b := &Connection{ID: "other-conn", Role: RoleTracker, BusID: "8", sessionID: "sess-2"}

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.Process(context.Background(), a, f.sample())
		require.NoError(t, err)
	}
	_, err := f.pipeline.Process(context.Background(), a, f.sample())
	require.Error(t, err)

	other := f.sample()
	other.BusID = "8"
	other.SessionID = "sess-2"
	_, err = f.pipeline.Process(context.Background(), b, other)
	assert.NoError(t, err)
}

func TestPipelineTouchesRoomOnUpdate(t *testing.T) {
	f := newPipelineFixture(t)
	f.sessions.addSession("sess-1", "7")

	_, err := f.pipeline.Process(context.Background(), trackerConn("7", "sess-1"), f.sample())
	require.NoError(t, err)

	// The update itself keeps the room alive even if the registry had
	// already swept it.
	assert.Equal(t, 1, f.registry.RoomCount())
}
