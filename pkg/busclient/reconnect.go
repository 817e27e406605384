package busclient

import (
	"sync"
	"time"
)

// State is the connection lifecycle state of the client.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateBackoff      State = "backoff"

	// StateClosed is terminal: the server told the client to go away,
	// or the caller disconnected explicitly. No reconnect is attempted.
	StateClosed State = "closed"

	// StateFailed is terminal: the retry budget is exhausted. Requires
	// an explicit Reset before another Connect.
	StateFailed State = "failed"
)

const (
	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxAttempts bounds consecutive failed reconnects.
	DefaultMaxAttempts = 5
)

// Reconnector is the client-side reconnection state machine:
// Idle → Connecting → Connected → Disconnected → Backoff → Connecting …
// A successful connection resets the attempt counter; a server-initiated
// disconnect terminates the machine; exhausting the attempt budget
// parks it in Failed until the caller resets it.
type Reconnector struct {
	baseDelay   time.Duration
	maxAttempts int

	mu      sync.Mutex
	state   State
	attempt int
}

func NewReconnector(baseDelay time.Duration, maxAttempts int) *Reconnector {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Reconnector{
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt returns the current consecutive-failure count.
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Connecting marks the start of a connection attempt. Returns false if
// the machine is in a terminal state.
func (r *Reconnector) Connecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed || r.state == StateFailed {
		return false
	}
	r.state = StateConnecting
	return true
}

// Connected marks a successful connection and resets the attempt
// counter.
func (r *Reconnector) Connected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateConnected
	r.attempt = 0
}

// Disconnected records a connection loss or connect failure and decides
// what happens next. serverInitiated means the server deliberately
// closed the connection, which terminates the machine. Otherwise the
// machine moves to Backoff and the returned delay is
// baseDelay * 2^(attempt-1), or to Failed once attempts exceed the
// budget (retry=false).
func (r *Reconnector) Disconnected(serverInitiated bool) (retry bool, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if serverInitiated {
		r.state = StateClosed
		return false, 0
	}

	r.attempt++
	if r.attempt > r.maxAttempts {
		r.state = StateFailed
		return false, 0
	}

	r.state = StateBackoff
	return true, r.baseDelay << (r.attempt - 1)
}

// Close terminates the machine on the caller's initiative, including
// mid-Backoff.
func (r *Reconnector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateClosed
}

// Reset returns a terminal machine to Idle for a caller-initiated
// retry.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.attempt = 0
}
