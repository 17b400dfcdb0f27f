package ws

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ErrMalformedFrame marks a message that is not a decodable Frame. The
// connection itself is still usable.
var ErrMalformedFrame = errors.New("malformed frame")

// Connection wraps a gorilla websocket connection with serialized writes
// and activity tracking.
type Connection struct {
	id         string
	socket     *websocket.Conn
	mu         sync.Mutex
	closed     atomic.Bool
	lastActive atomic.Int64
}

// NewConnection creates a tracked websocket connection.
func NewConnection(id string, socket *websocket.Conn) *Connection {
	conn := &Connection{
		id:     id,
		socket: socket,
	}
	conn.touch()
	return conn
}

// WriteFrame encodes f and sends it as a text message.
func (c *Connection) WriteFrame(f Frame) error {
	payload, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, payload)
}

// WriteMessage sends a message to the peer.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("connection %s already closed", c.id)
	}

	if err := c.socket.WriteMessage(messageType, data); err != nil {
		return err
	}

	c.touch()
	return nil
}

// WritePing sends a ping control frame. Safe to call alongside WriteMessage.
func (c *Connection) WritePing(deadline time.Time) error {
	if c.closed.Load() {
		return fmt.Errorf("connection %s already closed", c.id)
	}
	return c.socket.WriteControl(websocket.PingMessage, nil, deadline)
}

// ReadFrame blocks for the next text message and decodes it.
func (c *Connection) ReadFrame() (Frame, error) {
	var f Frame
	_, payload, err := c.socket.ReadMessage()
	if err != nil {
		return f, err
	}
	c.touch()
	if err := sonic.Unmarshal(payload, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// KeepAlive arms the read deadline and extends it on every pong.
func (c *Connection) KeepAlive(window time.Duration) {
	if window <= 0 {
		return
	}
	_ = c.socket.SetReadDeadline(time.Now().Add(window))
	c.socket.SetPongHandler(func(string) error {
		c.touch()
		return c.socket.SetReadDeadline(time.Now().Add(window))
	})
}

// Close terminates the underlying websocket connection.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.socket.Close()
}

func (c *Connection) GetID() string {
	return c.id
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// GetLastActiveTime exposes when the peer last interacted with us.
func (c *Connection) GetLastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// IsStale checks whether the connection has been idle for longer than timeout.
func (c *Connection) IsStale(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(c.GetLastActiveTime()) > timeout
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}
