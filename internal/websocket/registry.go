package websocket

import (
	"sync"
	"time"

	"log/slog"
)

// TrackerBinding is the single live tracker authorized to publish
// location for a bus.
type TrackerBinding struct {
	ConnID    string
	SessionID string
}

// Room tracks one optional tracker binding and the set of consumer
// connections watching a bus. Rooms are created lazily and deleted as
// soon as they are both trackerless and empty.
type Room struct {
	BusID      string
	Tracker    *TrackerBinding
	Consumers  map[string]struct{}
	LastUpdate time.Time
}

// IsActive is derived from the binding's presence, never set
// independently.
func (r *Room) IsActive() bool {
	return r.Tracker != nil
}

// RoomStat is the operational snapshot of one room, exposed for health
// reporting.
type RoomStat struct {
	BusID         string `json:"busId"`
	ConsumerCount int    `json:"consumerCount"`
	HasTracker    bool   `json:"hasTracker"`
}

// Sender delivers one event to one connection, fire-and-forget. It must
// not block: a consumer mid-disconnect simply misses the message.
type Sender interface {
	Send(connID string, event EventName, data interface{}) bool
}

// Registry is the in-memory directory of per-bus rooms. All mutating
// operations are serialized by a single mutex, which preserves the
// at-most-one-tracker and count-consistency invariants under concurrent
// connect/disconnect races. Different buses share the mutex, but no
// operation here blocks on I/O, so the critical sections stay short.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	sender Sender

	// now is replaceable in tests
	now func() time.Time
}

func NewRegistry(sender Sender) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		sender: sender,
		now:    time.Now,
	}
}

// getOrCreate must be called with the lock held.
func (reg *Registry) getOrCreate(busID string) *Room {
	room, ok := reg.rooms[busID]
	if !ok {
		room = &Room{
			BusID:      busID,
			Consumers:  make(map[string]struct{}),
			LastUpdate: reg.now(),
		}
		reg.rooms[busID] = room
		slog.Debug("Room created", "busID", busID)
	}
	return room
}

// AddTracker binds a tracker connection to a bus. Fails with
// ErrTrackerConflict if the room already has a live binding, regardless
// of which connection owns it.
func (reg *Registry) AddTracker(busID, connID, sessionID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.getOrCreate(busID)
	if room.Tracker != nil {
		return ErrTrackerConflict
	}

	room.Tracker = &TrackerBinding{ConnID: connID, SessionID: sessionID}
	room.LastUpdate = reg.now()
	slog.Info("Tracker registered", "busID", busID, "connID", connID)
	return nil
}

// RemoveTracker clears the tracker binding if connID owns it. A
// mismatched or missing binding is a stale-disconnect race and counts
// as a no-op success. The room is deleted outright when the departing
// tracker leaves no consumers behind. Returns whether a binding was
// actually cleared, so callers know whether to notify consumers.
func (reg *Registry) RemoveTracker(busID, connID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	if !ok || room.Tracker == nil || room.Tracker.ConnID != connID {
		return false
	}

	room.Tracker = nil
	room.LastUpdate = reg.now()

	if len(room.Consumers) == 0 {
		delete(reg.rooms, busID)
		slog.Debug("Room deleted", "busID", busID)
	}

	slog.Info("Tracker removed", "busID", busID, "connID", connID)
	return true
}

// AddConsumer adds a consumer connection to a room's membership set and
// returns the resulting count plus whether the set actually grew.
// Adding the same connection twice does not grow the set, and callers
// use the second return to skip re-announcing an existing member.
func (reg *Registry) AddConsumer(busID, connID string) (int, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.getOrCreate(busID)
	_, present := room.Consumers[connID]
	room.Consumers[connID] = struct{}{}
	room.LastUpdate = reg.now()
	return len(room.Consumers), !present
}

// RemoveConsumer drops a consumer from a room's membership set. Removal
// of an absent member is an idempotent no-op; a missing room is
// reported as ErrRoomNotFound so callers can detect races.
func (reg *Registry) RemoveConsumer(busID, connID string) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	if !ok {
		return 0, ErrRoomNotFound
	}

	delete(room.Consumers, connID)
	room.LastUpdate = reg.now()
	return len(room.Consumers), nil
}

// HasTracker reports whether a bus currently has a live tracker.
func (reg *Registry) HasTracker(busID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	return ok && room.Tracker != nil
}

// ConsumerCount returns the current membership size for a bus.
func (reg *Registry) ConsumerCount(busID string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	if !ok {
		return 0
	}
	return len(room.Consumers)
}

// BroadcastToConsumers sends an event to every consumer currently in
// the room. Fire-and-forget: no acknowledgment, no retry. Returns the
// number of attempted deliveries.
func (reg *Registry) BroadcastToConsumers(busID string, event EventName, data interface{}) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	if !ok {
		return 0
	}

	sent := 0
	for connID := range room.Consumers {
		if reg.sender.Send(connID, event, data) {
			sent++
		}
	}
	return sent
}

// NotifyTracker sends an event to the room's tracker, if any.
func (reg *Registry) NotifyTracker(busID string, event EventName, data interface{}) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[busID]
	if !ok || room.Tracker == nil {
		return false
	}
	return reg.sender.Send(room.Tracker.ConnID, event, data)
}

// Touch refreshes a room's last-update timestamp, re-creating the room
// if a Sweep raced an in-flight update.
func (reg *Registry) Touch(busID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.getOrCreate(busID)
	room.LastUpdate = reg.now()
}

// Sweep deletes every room that is trackerless, consumerless and idle
// past the threshold. Active rooms and rooms with consumers are never
// swept regardless of age. Returns the number of rooms removed.
func (reg *Registry) Sweep(inactivityThreshold time.Duration) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	removed := 0
	for busID, room := range reg.rooms {
		if room.Tracker == nil && len(room.Consumers) == 0 &&
			now.Sub(room.LastUpdate) > inactivityThreshold {
			delete(reg.rooms, busID)
			removed++
		}
	}

	if removed > 0 {
		slog.Info("Swept inactive rooms", "removed", removed, "remaining", len(reg.rooms))
	}
	return removed
}

// Stats returns an operational snapshot of every room.
func (reg *Registry) Stats() []RoomStat {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	stats := make([]RoomStat, 0, len(reg.rooms))
	for busID, room := range reg.rooms {
		stats = append(stats, RoomStat{
			BusID:         busID,
			ConsumerCount: len(room.Consumers),
			HasTracker:    room.Tracker != nil,
		})
	}
	return stats
}

// RoomCount reports how many rooms currently exist.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
