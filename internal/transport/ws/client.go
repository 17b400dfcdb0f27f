package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nrich-session-guard/internal/domain/presence"
	"nrich-session-guard/internal/platform/logging"
)

const defaultRequestTimeout = 10 * time.Second

// Dialer opens presence channels over websocket.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	Logger           logging.Leveled
}

var _ presence.Dialer = (*Dialer)(nil)

// Dial implements presence.Dialer.
func (d *Dialer) Dial(ctx context.Context, token string) (presence.Channel, error) {
	c, err := d.DialClient(ctx, token)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialClient connects, waits for the server hello and starts the reader and
// delivery goroutines.
func (d *Dialer) DialClient(ctx context.Context, token string) (*Client, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	socket, resp, err := wd.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", presence.ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("dial presence %s: %w", d.URL, err)
	}

	conn := NewConnection(uuid.NewString(), socket)
	_ = socket.SetReadDeadline(time.Now().Add(timeout))
	hello, err := conn.ReadFrame()
	if err != nil || hello.Type != FrameHello {
		_ = conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected %q frame", hello.Type)
		}
		return nil, fmt.Errorf("presence hello: %w", err)
	}
	_ = socket.SetReadDeadline(time.Time{})

	reqTimeout := d.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = defaultRequestTimeout
	}
	c := &Client{
		conn:       conn,
		logger:     logging.OrNop(d.Logger),
		reqTimeout: reqTimeout,
		connID:     hello.ConnID,
		uid:        hello.UserID,
		pending:    make(map[string]chan Frame),
		subs:       make(map[string]func([]byte)),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	go c.deliverLoop()
	return c, nil
}

// Client is a presence.Channel backed by one websocket connection.
// Subscription callbacks run on a delivery goroutine separate from the
// reader, so a callback may issue requests and wait for their acks.
type Client struct {
	conn       *Connection
	logger     logging.Leveled
	reqTimeout time.Duration
	connID     string
	uid        string

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]func([]byte)
	closed  bool

	queueMu sync.Mutex
	queue   []Frame
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

var _ presence.Channel = (*Client)(nil)

// ConnID is the server-assigned connection id.
func (c *Client) ConnID() string { return c.connID }

// UserID is the uid the server authenticated.
func (c *Client) UserID() string { return c.uid }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return err
	}
	return c.request(ctx, Frame{Type: FrameSet, Path: path, Value: raw})
}

func (c *Client) Subscribe(ctx context.Context, path string, fn func([]byte)) (func(), error) {
	subID := uuid.NewString()

	// Registered before the request: the current value may beat the ack.
	c.mu.Lock()
	c.subs[subID] = fn
	c.mu.Unlock()

	if err := c.request(ctx, Frame{Type: FrameSubscribe, Sub: subID, Path: path}); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, subID)
			c.mu.Unlock()
			// Fire and forget; the ack is ignored.
			if err := c.conn.WriteFrame(Frame{Type: FrameUnsubscribe, ID: uuid.NewString(), Sub: subID}); err != nil {
				c.logger.Debug("unsubscribe %s: %v", subID, err)
			}
		})
	}, nil
}

func (c *Client) OnDisconnectSet(ctx context.Context, path string, value any) error {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return err
	}
	return c.request(ctx, Frame{Type: FrameOnDisconnectSet, Path: path, Value: raw})
}

func (c *Client) CancelOnDisconnect(ctx context.Context, path string) error {
	return c.request(ctx, Frame{Type: FrameCancelOnDisconnect, Path: path})
}

// Close drops the connection. The server then fires this connection's
// disconnect hooks. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = make(map[string]chan Frame)
		c.mu.Unlock()

		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close presence connection: %v", err)
		}
		if cause != nil {
			c.logger.Warn("presence connection lost: %v", cause)
		}
	})
}

func (c *Client) request(ctx context.Context, f Frame) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}

	f.ID = uuid.NewString()
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}

	if err := c.conn.WriteFrame(f); err != nil {
		forget()
		return fmt.Errorf("send %s: %w", f.Type, err)
	}

	select {
	case r := <-reply:
		if r.Type == FrameError {
			return errorFor(r)
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

func (c *Client) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.logger.Warn("dropping frame: %v", err)
				continue
			}
			if c.conn.IsClosed() {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}

		switch f.Type {
		case FrameAck, FrameError:
			c.mu.Lock()
			reply := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if reply != nil {
				reply <- f
			} else if f.Type == FrameError {
				c.logger.Warn("server error without request: %s %s", f.Code, f.Message)
			}
		case FrameValue:
			c.queueMu.Lock()
			c.queue = append(c.queue, f)
			c.queueMu.Unlock()
			select {
			case c.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		c.queueMu.Lock()
		batch := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		for _, f := range batch {
			c.mu.Lock()
			fn := c.subs[f.Sub]
			c.mu.Unlock()
			if fn != nil {
				fn(valueOf(f))
			}
		}
	}
}
