package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"rentline/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated websocket session.
type Client struct {
	ID     string
	UserID string

	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{} // guarded by the manager's mutex

	sendMu sync.RWMutex
	closed bool
}

func NewClient(userID string, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// trySend enqueues a frame without blocking. It reports false when the
// session buffer is full or the session is already closed.
func (c *Client) trySend(frame []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// clientFrame is what sessions send upstream: room subscription changes and
// keepalive pings. Messages themselves go through the HTTP API.
type clientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
}

// ReadPump consumes frames from the session until it disconnects, then tears
// the session down.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Websocket read error for session %s: %v", c.ID, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendEvent(EventError, "", map[string]string{"error": "invalid frame"})
			continue
		}

		switch frame.Type {
		case "join_room":
			if frame.ChatID == "" {
				c.sendEvent(EventError, "", map[string]string{"error": "missing chat_id"})
				continue
			}
			if err := m.JoinRoom(context.Background(), c, frame.ChatID); err != nil {
				logger.Error("Join room %s failed for user %s: %v", frame.ChatID, c.UserID, err)
			}
		case "leave_room":
			if frame.ChatID != "" {
				m.LeaveRoom(c, frame.ChatID)
			}
		case "ping":
			c.sendEvent(EventPong, "", nil)
		default:
			c.sendEvent(EventError, "", map[string]string{"error": "unknown frame type"})
		}
	}
}

// WritePump flushes outbound frames and keeps the connection alive with
// protocol-level pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("Websocket write error for session %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendEvent(event, chatID string, payload interface{}) {
	frame, err := marshalEvent(event, chatID, payload)
	if err != nil {
		return
	}
	c.trySend(frame)
}
