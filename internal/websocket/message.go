package websocket

import (
	"encoding/json"
	"time"
)

// EventName identifies a protocol event exchanged over the persistent
// connection.
type EventName string

// Protocol events - realtime bus tracking
const (
	// Client to server
	EventAuthenticate   EventName = "authenticate"
	EventLocationUpdate EventName = "location-update"
	EventJoinBusRoom    EventName = "join-bus-room"
	EventLeaveBusRoom   EventName = "leave-bus-room"
	EventEndSession     EventName = "end-session"
	EventPing           EventName = "ping"

	// Server to client
	EventTrackerAuthenticated  EventName = "tracker-authenticated"
	EventConsumerAuthenticated EventName = "consumer-authenticated"
	EventTrackerConflict       EventName = "tracker-conflict"
	EventLocationUpdated       EventName = "location-updated"
	EventLocationUpdateAck     EventName = "location-update-ack"
	EventTrackerDisconnected   EventName = "tracker-disconnected"
	EventNoActiveTracker       EventName = "no-active-tracker"
	EventConsumerJoined        EventName = "consumer-joined"
	EventConsumerLeft          EventName = "consumer-left"
	EventRateLimitExceeded     EventName = "rate-limit-exceeded"
	EventSessionExpired        EventName = "session-expired"
	EventSessionEnded          EventName = "session-ended"
	EventPong                  EventName = "pong"
	EventError                 EventName = "error"
)

func (e EventName) String() string {
	return string(e)
}

// Envelope is the wire format: a named event with a JSON payload.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is an event about to be serialized for a client.
type OutboundMessage struct {
	Event EventName   `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Payloads

type AuthRequest struct {
	Role       string `json:"role"`
	BusID      string `json:"busId"`
	SessionID  string `json:"sessionId,omitempty"`
	ConsumerID string `json:"consumerId,omitempty"`
}

type AuthAck struct {
	BusID     string `json:"busId"`
	SessionID string `json:"sessionId,omitempty"`
}

type TrackerConflictNotice struct {
	Error string `json:"error"`
	BusID string `json:"busId"`
}

type LocationUpdateAck struct {
	BusID           string `json:"busId"`
	Timestamp       int64  `json:"timestamp"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	Processed       bool   `json:"processed"`
}

type RoomChangeRequest struct {
	BusID      string `json:"busId"`
	ConsumerID string `json:"consumerId,omitempty"`
}

type EndSessionRequest struct {
	BusID     string `json:"busId"`
	SessionID string `json:"sessionId"`
}

// LocationBroadcast is the consumer-facing projection of a location
// sample. The session id is the tracker's publishing credential and
// must never leave the server side, so it is not part of this payload.
type LocationBroadcast struct {
	BusID     string  `json:"busId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

type TrackerDisconnectedNotice struct {
	BusID     string `json:"busId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type ConsumerCountNotice struct {
	BusID         string `json:"busId"`
	ConsumerCount int    `json:"consumerCount"`
}

type NoActiveTrackerNotice struct {
	BusID string `json:"busId"`
}

type RateLimitNotice struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfterSeconds"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Constructors

func NewErrorNotice(code, message string) *OutboundMessage {
	return &OutboundMessage{
		Event: EventError,
		Data:  ErrorNotice{Code: code, Message: message},
	}
}

func NewValidationNotice(field, message string) *OutboundMessage {
	return &OutboundMessage{
		Event: EventError,
		Data:  ErrorNotice{Code: CodeValidationFailed, Message: message, Field: field},
	}
}

func NewTrackerDisconnectedNotice(busID, reason string) *TrackerDisconnectedNotice {
	return &TrackerDisconnectedNotice{
		BusID:     busID,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Marshal serializes an outbound message to its wire form.
func (m *OutboundMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
