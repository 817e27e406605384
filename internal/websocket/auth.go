package websocket

import (
	"regexp"
	"strconv"
	"time"
)

// Role classifies a connection. It is assigned exactly once, at
// authentication, and never changes afterwards.
type Role string

const (
	RoleTracker  Role = "tracker"
	RoleConsumer Role = "consumer"
)

// Connection is the immutable record of one authenticated transport
// session. SessionID is set for trackers, ConsumerID for consumers;
// reading the wrong one for the role is a programming error, so both
// are only reachable through the role-checked accessors below.
type Connection struct {
	ID           string
	Role         Role
	BusID        string
	sessionID    string
	consumerID   string
	ConnectedAt  time.Time
	LastActivity time.Time
}

func (c *Connection) IsTracker() bool {
	return c.Role == RoleTracker
}

func (c *Connection) IsConsumer() bool {
	return c.Role == RoleConsumer
}

// SessionID returns the tracking session id. Empty for consumers.
func (c *Connection) SessionID() string {
	if !c.IsTracker() {
		return ""
	}
	return c.sessionID
}

// ConsumerID returns the consumer device id. Empty for trackers.
func (c *Connection) ConsumerID() string {
	if !c.IsConsumer() {
		return ""
	}
	return c.consumerID
}

// Bus numbers are a fixed fleet: plain 1-50, or the lettered series
// A1-A20, B1-B20 and C1-C10.
var busIDPattern = regexp.MustCompile(`^([A-C]?)([1-9][0-9]?)$`)

// ValidBusID reports whether busID names a bus in the fleet.
func ValidBusID(busID string) bool {
	m := busIDPattern.FindStringSubmatch(busID)
	if m == nil {
		return false
	}

	n, err := strconv.Atoi(m[2])
	if err != nil {
		return false
	}

	switch m[1] {
	case "":
		return n >= 1 && n <= 50
	case "A", "B":
		return n >= 1 && n <= 20
	case "C":
		return n >= 1 && n <= 10
	default:
		return false
	}
}

// Authenticator validates handshake payloads and mints Connection
// records. It never touches room state: registration with the Room
// Registry is a separate, explicit step so that a failed handshake
// leaves no trace.
type Authenticator struct {
	now func() time.Time
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{now: time.Now}
}

// Authenticate validates a handshake and returns the connection record
// for it, keyed by the transport's connection id. The returned error is
// always a *ValidationError.
func (a *Authenticator) Authenticate(connID string, req AuthRequest) (*Connection, error) {
	role := Role(req.Role)
	if role != RoleTracker && role != RoleConsumer {
		return nil, newValidationError("role", "must be \"tracker\" or \"consumer\"")
	}

	if req.BusID == "" {
		return nil, newValidationError("busId", "is required")
	}
	if !ValidBusID(req.BusID) {
		return nil, newValidationError("busId", "must be 1-50, A1-A20, B1-B20 or C1-C10")
	}

	switch role {
	case RoleTracker:
		if req.SessionID == "" {
			return nil, newValidationError("sessionId", "is required for trackers")
		}
	case RoleConsumer:
		if req.ConsumerID == "" {
			return nil, newValidationError("consumerId", "is required for consumers")
		}
	}

	now := a.now()
	return &Connection{
		ID:           connID,
		Role:         role,
		BusID:        req.BusID,
		sessionID:    req.SessionID,
		consumerID:   req.ConsumerID,
		ConnectedAt:  now,
		LastActivity: now,
	}, nil
}
