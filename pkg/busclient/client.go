package busclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

// Protocol event names understood by the tracking server.
const (
	eventAuthenticate   = "authenticate"
	eventLocationUpdate = "location-update"
	eventJoinBusRoom    = "join-bus-room"
	eventLeaveBusRoom   = "leave-bus-room"
	eventEndSession     = "end-session"
	eventPing           = "ping"
	eventPong           = "pong"
)

// Envelope is the wire frame of every protocol message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handshake identifies the client to the server after every
// (re)connection. Trackers set SessionID, consumers set ConsumerID.
type Handshake struct {
	Role       string `json:"role"`
	BusID      string `json:"busId"`
	SessionID  string `json:"sessionId,omitempty"`
	ConsumerID string `json:"consumerId,omitempty"`
}

// LocationSample is one position report published by a tracker.
type LocationSample struct {
	BusID     string  `json:"busId"`
	SessionID string  `json:"sessionId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// Config describes one client connection to the tracking server.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:3001/api/v1/ws.
	URL string

	// Handshake is sent as the authenticate event after every
	// (re)connection.
	Handshake Handshake

	// BaseDelay and MaxAttempts tune the reconnection backoff. Zero
	// values take the defaults.
	BaseDelay   time.Duration
	MaxAttempts int

	// OnEvent receives every inbound server event. Called from the read
	// loop; handlers must not block.
	OnEvent func(Envelope)

	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(State)
}

// Client maintains a persistent connection to the tracking server,
// re-authenticating after transport failures with exponential backoff.
type Client struct {
	cfg    Config
	recon  *Reconnector
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	// writeMu serializes writes to the socket; gorilla connections
	// support only one concurrent writer.
	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		recon: NewReconnector(cfg.BaseDelay, cfg.MaxAttempts),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.recon.State()
}

// Run connects and keeps the connection alive until the context is
// canceled, the server terminates the client, or the retry budget runs
// out. It blocks; callers run it on its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		if !c.recon.Connecting() {
			return fmt.Errorf("client is %s", c.recon.State())
		}
		c.notifyState()

		serverInitiated, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.recon.Close()
			c.notifyState()
			return ctx.Err()
		}

		retry, delay := c.recon.Disconnected(serverInitiated)
		c.notifyState()
		if !retry {
			if c.recon.State() == StateFailed {
				return fmt.Errorf("gave up after %d attempts: %w", c.recon.Attempt()-1, err)
			}
			return err
		}

		slog.Info("Reconnecting", "attempt", c.recon.Attempt(), "delay", delay)

		// The backoff delay is cancellable by an explicit disconnect.
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.recon.Close()
			c.notifyState()
			return ctx.Err()
		}
	}
}

// runOnce dials, authenticates and pumps events until the connection
// drops. Reports whether the server closed the connection deliberately.
func (c *Client) runOnce(ctx context.Context) (serverInitiated bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.send(eventAuthenticate, c.cfg.Handshake); err != nil {
		return false, fmt.Errorf("authenticate failed: %w", err)
	}

	c.recon.Connected()
	c.notifyState()
	slog.Info("Connected", "url", c.cfg.URL, "role", c.cfg.Handshake.Role)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				return true, err
			}
			return false, err
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("Dropping malformed server message", "error", err)
			continue
		}

		if env.Event == eventPing {
			c.send(eventPong, nil)
			continue
		}

		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env)
		}
	}
}

// SendLocation publishes one location sample. Only meaningful for
// tracker clients.
func (c *Client) SendLocation(sample LocationSample) error {
	return c.send(eventLocationUpdate, sample)
}

// JoinBus subscribes a consumer client to another bus room.
func (c *Client) JoinBus(busID, consumerID string) error {
	return c.send(eventJoinBusRoom, map[string]string{
		"busId":      busID,
		"consumerId": consumerID,
	})
}

// LeaveBus unsubscribes a consumer client from a bus room.
func (c *Client) LeaveBus(busID, consumerID string) error {
	return c.send(eventLeaveBusRoom, map[string]string{
		"busId":      busID,
		"consumerId": consumerID,
	})
}

// EndSession gracefully stops a tracker's session.
func (c *Client) EndSession(busID, sessionID string) error {
	return c.send(eventEndSession, map[string]string{
		"busId":     busID,
		"sessionId": sessionID,
	})
}

// Disconnect terminates the client, cancelling any in-progress backoff
// delay.
func (c *Client) Disconnect() {
	c.recon.Close()
	c.notifyState()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
		c.conn.Close()
	}
	c.mu.Unlock()
}

// Reset clears a terminal Failed/Closed state so Run can be called
// again.
func (c *Client) Reset() {
	c.recon.Reset()
}

func (c *Client) send(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) notifyState() {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(c.recon.State())
	}
}
