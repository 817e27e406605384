package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/models"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/ratelimit"
)

// Hub owns the live connections and routes every inbound protocol event
// to the component that handles it. Messages from one connection are
// dispatched synchronously from its read loop, so per-connection
// ordering is preserved without a central event queue; cross-connection
// state is guarded by the Registry's own lock.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	connections map[string]*Connection

	auth        *Authenticator
	registry    *Registry
	pipeline    *Pipeline
	coordinator *Coordinator
	limiter     *ratelimit.Limiter
	sessions    SessionStore
	feed        EventPublisher
}

func NewHub(limiter *ratelimit.Limiter, sessions SessionStore, feed EventPublisher, staleCutoff time.Duration) *Hub {
	h := &Hub{
		clients:     make(map[string]*Client),
		connections: make(map[string]*Connection),
		auth:        NewAuthenticator(),
		limiter:     limiter,
		sessions:    sessions,
		feed:        feed,
	}

	h.registry = NewRegistry(h)
	h.pipeline = NewPipeline(limiter, sessions, h.registry, feed, staleCutoff)
	h.coordinator = NewCoordinator(h.registry, limiter, h, feed)
	return h
}

// Registry exposes the room directory for sweeping and stats reporting.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Send implements Sender: fire-and-forget delivery of one event to one
// connection. Returns false when the connection is gone or its buffer
// is full.
func (h *Hub) Send(connID string, event EventName, data interface{}) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	return client.SendEvent(event, data) == nil
}

// Lookup implements ConnectionTable.
func (h *Hub) Lookup(connID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[connID]
	return conn, ok
}

// Remove implements ConnectionTable.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, connID)
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("Client connected", "clientID", c.id, "totalClients", total)
}

// clientGone runs teardown when a transport drops. Safe to call more
// than once for the same client.
func (h *Hub) clientGone(c *Client, graceful bool) {
	reason := ReasonConnectionLost
	if graceful {
		reason = ReasonSessionEnded
	}
	h.coordinator.HandleDisconnect(context.Background(), c.id, reason)

	h.mu.Lock()
	delete(h.clients, c.id)
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("Client disconnected", "clientID", c.id, "graceful", graceful, "totalClients", total)
}

// Stop closes every live connection. Used during graceful shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	slog.Info("Hub stopped", "closedClients", len(clients))
}

// HandleMessage is the single dispatch point for inbound traffic.
// Called synchronously from the owning client's read loop.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError(CodeInvalidMessage, "malformed message")
		return
	}

	h.touch(c.id)

	switch env.Event {
	case EventAuthenticate:
		h.handleAuthenticate(ctx, c, env.Data)
	case EventLocationUpdate:
		h.handleLocationUpdate(ctx, c, env.Data)
	case EventJoinBusRoom:
		h.handleJoinBusRoom(c, env.Data)
	case EventLeaveBusRoom:
		h.handleLeaveBusRoom(c, env.Data)
	case EventEndSession:
		h.handleEndSession(ctx, c, env.Data)
	case EventPing:
		c.SendEvent(EventPong, nil)
	default:
		c.sendError(CodeUnknownEvent, "unknown event: "+string(env.Event))
	}
}

func (h *Hub) touch(connID string) {
	h.mu.Lock()
	if conn, ok := h.connections[connID]; ok {
		conn.LastActivity = time.Now()
	}
	h.mu.Unlock()
}

func (h *Hub) handleAuthenticate(ctx context.Context, c *Client, data json.RawMessage) {
	if _, ok := h.Lookup(c.id); ok {
		c.sendError(CodeAlreadyAuthenticated, "connection already has a role")
		return
	}

	var req AuthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(CodeInvalidMessage, "malformed authenticate payload")
		return
	}

	conn, err := h.auth.Authenticate(c.id, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.SendMessage(NewValidationNotice(verr.Field, verr.Reason))
		} else {
			c.sendError(CodeValidationFailed, err.Error())
		}
		// A failed handshake refuses the connection outright.
		c.Close()
		return
	}

	switch conn.Role {
	case RoleTracker:
		h.registerTracker(ctx, c, conn)
	case RoleConsumer:
		h.registerConsumer(c, conn)
	}
}

func (h *Hub) registerTracker(ctx context.Context, c *Client, conn *Connection) {
	active, err := h.sessions.IsActive(ctx, conn.SessionID())
	if err != nil {
		slog.Error("Session check failed during authentication",
			"clientID", c.id, "error", err)
		c.sendError(CodeInternalError, "session check failed")
		return
	}
	if !active {
		c.SendEvent(EventSessionExpired, ErrorNotice{
			Code:    CodeSessionExpired,
			Message: "tracking session is not active",
		})
		c.Close()
		return
	}

	if err := h.registry.AddTracker(conn.BusID, conn.ID, conn.SessionID()); err != nil {
		// The core correctness guarantee: a bus never has two live
		// trackers. The loser learns about the conflict and stays
		// connected, free to retry when the slot frees up.
		c.SendEvent(EventTrackerConflict, TrackerConflictNotice{
			Error: "bus already has an active tracker",
			BusID: conn.BusID,
		})
		return
	}

	h.storeConnection(conn)
	c.SendEvent(EventTrackerAuthenticated, AuthAck{
		BusID:     conn.BusID,
		SessionID: conn.SessionID(),
	})
}

func (h *Hub) registerConsumer(c *Client, conn *Connection) {
	count, _ := h.registry.AddConsumer(conn.BusID, conn.ID)
	h.storeConnection(conn)

	c.SendEvent(EventConsumerAuthenticated, AuthAck{BusID: conn.BusID})

	if !h.registry.HasTracker(conn.BusID) {
		c.SendEvent(EventNoActiveTracker, NoActiveTrackerNotice{BusID: conn.BusID})
	}

	h.registry.NotifyTracker(conn.BusID, EventConsumerJoined, ConsumerCountNotice{
		BusID:         conn.BusID,
		ConsumerCount: count,
	})
}

func (h *Hub) storeConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
}

func (h *Hub) handleLocationUpdate(ctx context.Context, c *Client, data json.RawMessage) {
	conn, ok := h.Lookup(c.id)
	if !ok {
		c.sendError(CodeNotAuthenticated, "authenticate first")
		return
	}
	if !conn.IsTracker() {
		c.sendError(CodeNotTracker, "only trackers publish location")
		return
	}

	var sample models.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		c.sendError(CodeInvalidMessage, "malformed location payload")
		return
	}

	ack, err := h.pipeline.Process(ctx, conn, sample)
	if err != nil {
		h.rejectLocationUpdate(ctx, c, conn, err)
		return
	}

	c.SendEvent(EventLocationUpdateAck, ack)
}

// rejectLocationUpdate maps a pipeline failure onto the protocol event
// the tracker receives. No rejection is ever silent.
func (h *Hub) rejectLocationUpdate(ctx context.Context, c *Client, conn *Connection, err error) {
	var rateErr *RateLimitedError
	var valErr *ValidationError

	switch {
	case errors.As(err, &rateErr):
		retryAfter := int64(rateErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.SendEvent(EventRateLimitExceeded, RateLimitNotice{
			Error:      "too many location updates",
			RetryAfter: retryAfter,
		})

	case errors.As(err, &valErr):
		c.SendMessage(NewValidationNotice(valErr.Field, valErr.Reason))

	case errors.Is(err, ErrSessionExpired):
		// An expired session is equivalent to an explicit disconnect:
		// release the room slot, notify consumers, drop the tracker.
		c.SendEvent(EventSessionExpired, ErrorNotice{
			Code:    CodeSessionExpired,
			Message: "tracking session has expired",
		})
		h.coordinator.HandleDisconnect(ctx, conn.ID, ReasonSessionEnded)
		c.Close()

	case errors.Is(err, ErrBusMismatch):
		c.sendError(CodeBusMismatch, "session is bound to a different bus")

	default:
		slog.Error("Location update failed",
			"clientID", c.id, "busID", conn.BusID, "error", err)
		c.sendError(CodeInternalError, "location update could not be processed")
	}
}

func (h *Hub) handleJoinBusRoom(c *Client, data json.RawMessage) {
	conn, ok := h.Lookup(c.id)
	if !ok {
		c.sendError(CodeNotAuthenticated, "authenticate first")
		return
	}
	if !conn.IsConsumer() {
		c.sendError(CodeNotConsumer, "only consumers join bus rooms")
		return
	}

	var req RoomChangeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(CodeInvalidMessage, "malformed join payload")
		return
	}
	if !ValidBusID(req.BusID) {
		c.SendMessage(NewValidationNotice("busId", "must name a bus in the fleet"))
		return
	}

	if req.BusID != conn.BusID {
		if count, err := h.registry.RemoveConsumer(conn.BusID, conn.ID); err == nil {
			h.registry.NotifyTracker(conn.BusID, EventConsumerLeft, ConsumerCountNotice{
				BusID:         conn.BusID,
				ConsumerCount: count,
			})
		}
		h.mu.Lock()
		conn.BusID = req.BusID
		h.mu.Unlock()
	}

	count, joined := h.registry.AddConsumer(req.BusID, conn.ID)

	if !h.registry.HasTracker(req.BusID) {
		c.SendEvent(EventNoActiveTracker, NoActiveTrackerNotice{BusID: req.BusID})
	}

	// Re-joining the room you are already in changes nothing, so the
	// tracker is not re-notified.
	if joined {
		h.registry.NotifyTracker(req.BusID, EventConsumerJoined, ConsumerCountNotice{
			BusID:         req.BusID,
			ConsumerCount: count,
		})
	}
}

func (h *Hub) handleLeaveBusRoom(c *Client, data json.RawMessage) {
	conn, ok := h.Lookup(c.id)
	if !ok {
		c.sendError(CodeNotAuthenticated, "authenticate first")
		return
	}
	if !conn.IsConsumer() {
		c.sendError(CodeNotConsumer, "only consumers leave bus rooms")
		return
	}

	var req RoomChangeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(CodeInvalidMessage, "malformed leave payload")
		return
	}

	count, err := h.registry.RemoveConsumer(req.BusID, conn.ID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			c.sendError(CodeRoomNotFound, "no room for bus "+req.BusID)
		}
		return
	}

	h.registry.NotifyTracker(req.BusID, EventConsumerLeft, ConsumerCountNotice{
		BusID:         req.BusID,
		ConsumerCount: count,
	})
}

func (h *Hub) handleEndSession(ctx context.Context, c *Client, data json.RawMessage) {
	conn, ok := h.Lookup(c.id)
	if !ok {
		c.sendError(CodeNotAuthenticated, "authenticate first")
		return
	}
	if !conn.IsTracker() {
		c.sendError(CodeNotTracker, "only trackers end sessions")
		return
	}

	var req EndSessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(CodeInvalidMessage, "malformed end-session payload")
		return
	}
	if req.SessionID != conn.SessionID() {
		c.SendMessage(NewValidationNotice("sessionId", "does not match this connection's session"))
		return
	}

	// Teardown is best-effort: a persistence failure here never keeps
	// the room slot occupied.
	if err := h.sessions.End(ctx, conn.SessionID()); err != nil {
		slog.Warn("Failed to end session in store",
			"sessionID", conn.SessionID(), "error", err)
	}

	h.coordinator.HandleDisconnect(ctx, conn.ID, ReasonSessionEnded)
	c.SendEvent(EventSessionEnded, AuthAck{BusID: conn.BusID, SessionID: req.SessionID})
	c.Close()
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
