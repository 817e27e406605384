package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024
)

// Client is one persistent transport session. Its id doubles as the
// connection id throughout the realtime core.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Connection state management
	ctx        context.Context
	cancel     context.CancelFunc
	closed     int32 // atomic flag, client torn down
	sendClosed int32 // atomic flag, send channel closed
	graceful   int32 // atomic flag, peer closed cleanly

	// sendMu keeps closing the send channel mutually exclusive with
	// sends in flight from other connections' broadcasts.
	sendMu sync.RWMutex

	wg sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close tears the client down by closing the send queue. writePump
// drains whatever is already enqueued, then writes the close frame and
// releases the socket, so a termination notice enqueued before Close is
// always delivered ahead of the close frame. Safe to call more than
// once.
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.closeSendChannel()
	}
}

func (c *Client) closeSendChannel() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

// SendEvent marshals and enqueues one event for delivery.
func (c *Client) SendEvent(event EventName, data interface{}) error {
	return c.SendMessage(&OutboundMessage{Event: event, Data: data})
}

// SendMessage enqueues an outbound message without blocking. A full
// buffer means the peer stopped draining; the client is closed rather
// than letting one slow consumer stall the room.
func (c *Client) SendMessage(message *OutboundMessage) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := message.Marshal()
	if err != nil {
		return err
	}

	queued, full := c.enqueue(data)
	if queued {
		return nil
	}
	if full {
		slog.Warn("Send buffer full, closing client", "clientID", c.id)
		c.Close()
	}
	return ErrClientDisconnected
}

func (c *Client) enqueue(data []byte) (queued, full bool) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if atomic.LoadInt32(&c.sendClosed) == 1 {
		return false, false
	}

	select {
	case c.send <- data:
		return true, false
	case <-c.ctx.Done():
		return false, false
	default:
		return false, true
	}
}

func (c *Client) sendError(code, message string) {
	c.SendMessage(NewErrorNotice(code, message))
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.Close()

		graceful := atomic.LoadInt32(&c.graceful) == 1
		c.hub.clientGone(c, graceful)

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				atomic.StoreInt32(&c.graceful, 1)
				slog.Debug("Connection closed cleanly", "clientID", c.id)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "error", err)
			}
			break
		}

		// Synchronous dispatch keeps updates from one connection in
		// submission order.
		c.hub.HandleMessage(c.ctx, c, raw)
	}
}

// writePump owns all socket writes. The send channel closing is the
// teardown signal: everything enqueued before Close drains first, then
// the close frame goes out and the socket is released so a blocked
// read unwinds.
func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closed connection"))
				c.conn.Close()
				c.cancel()
				slog.Debug("Client closed", "clientID", c.id)
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "error", err)
				c.conn.Close()
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "error", err)
				c.conn.Close()
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ServeWS upgrades an HTTP request and hands the connection to the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := NewClient(hub, conn)
	hub.registerClient(client)

	go client.writePump()
	go client.readPump()
}
