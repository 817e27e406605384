package websocket

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTrackerConflict means a room already has a live tracker binding.
	ErrTrackerConflict = errors.New("bus already has an active tracker")

	// ErrRoomNotFound is returned by removals targeting a room that does
	// not exist. Reported, not swallowed, so callers can detect races.
	ErrRoomNotFound = errors.New("room not found")

	// ErrClientDisconnected means a send targeted a closed connection.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrSessionExpired means the tracking session is no longer active.
	ErrSessionExpired = errors.New("session expired")

	// ErrBusMismatch means a session was replayed against a bus it does
	// not belong to.
	ErrBusMismatch = errors.New("session is bound to a different bus")
)

// Protocol error codes sent to clients.
const (
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodeNotTracker           = "NOT_TRACKER"
	CodeNotConsumer          = "NOT_CONSUMER"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeTrackerConflict      = "TRACKER_CONFLICT"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
	CodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeBusMismatch          = "BUS_MISMATCH"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
)

// ValidationError reports the first handshake or location field that
// failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitedError carries how long the sender must wait before the
// next attempt can succeed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
