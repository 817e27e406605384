package websocket

import (
	"context"
	"errors"

	"log/slog"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/ratelimit"
)

// DisconnectReason tells consumers why a tracker went away.
type DisconnectReason string

const (
	// ReasonSessionEnded covers graceful termination: an explicit stop
	// or a clean transport close.
	ReasonSessionEnded DisconnectReason = "session_ended"

	// ReasonConnectionLost covers everything else.
	ReasonConnectionLost DisconnectReason = "connection_lost"
)

// ConnectionTable is the live-connection directory the coordinator
// releases records from. Implemented by the Hub.
type ConnectionTable interface {
	Lookup(connID string) (*Connection, bool)
	Remove(connID string)
}

// Coordinator tears down the room-side state of a departing
// connection. Teardown is best-effort and idempotent: processing the
// same disconnect twice must not double-broadcast or error, so a
// missing record or an already-cleared binding is treated as done.
type Coordinator struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	table    ConnectionTable
	feed     EventPublisher
}

func NewCoordinator(registry *Registry, limiter *ratelimit.Limiter, table ConnectionTable, feed EventPublisher) *Coordinator {
	return &Coordinator{
		registry: registry,
		limiter:  limiter,
		table:    table,
		feed:     feed,
	}
}

// HandleDisconnect releases everything a connection holds. An unknown
// connID means an unauthenticated connection dropped, which has nothing
// to release.
func (c *Coordinator) HandleDisconnect(ctx context.Context, connID string, reason DisconnectReason) {
	conn, ok := c.table.Lookup(connID)
	if !ok {
		return
	}

	switch conn.Role {
	case RoleTracker:
		c.releaseTracker(ctx, conn, reason)
	case RoleConsumer:
		c.releaseConsumer(conn)
	}

	// Connection resources are always released, whatever happened above.
	c.limiter.RemoveClient(connID)
	c.table.Remove(connID)
}

func (c *Coordinator) releaseTracker(ctx context.Context, conn *Connection, reason DisconnectReason) {
	removed := c.registry.RemoveTracker(conn.BusID, conn.ID)
	if !removed {
		// Stale race: another disconnect already cleared the binding.
		return
	}

	notice := NewTrackerDisconnectedNotice(conn.BusID, string(reason))
	c.registry.BroadcastToConsumers(conn.BusID, EventTrackerDisconnected, notice)

	if c.feed != nil {
		c.feed.Publish(ctx, EventTrackerDisconnected.String(), notice)
	}

	slog.Info("Tracker disconnected",
		"busID", conn.BusID, "connID", conn.ID, "reason", string(reason))
}

func (c *Coordinator) releaseConsumer(conn *Connection) {
	count, err := c.registry.RemoveConsumer(conn.BusID, conn.ID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			// Known race with a sweep or a tracker departure that already
			// deleted the room. Nothing left to leave.
			slog.Debug("Consumer left an already-deleted room",
				"busID", conn.BusID, "connID", conn.ID)
			return
		}
		slog.Warn("Consumer removal failed",
			"busID", conn.BusID, "connID", conn.ID, "error", err)
		return
	}

	c.registry.NotifyTracker(conn.BusID, EventConsumerLeft, ConsumerCountNotice{
		BusID:         conn.BusID,
		ConsumerCount: count,
	})

	slog.Debug("Consumer disconnected",
		"busID", conn.BusID, "connID", conn.ID, "remaining", count)
}
