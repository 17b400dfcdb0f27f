package presence

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Channel is the client's handle on the realtime tree. Subscription
// callbacks run on the channel's delivery goroutine.
type Channel interface {
	Set(ctx context.Context, path string, value any) error
	Subscribe(ctx context.Context, path string, fn func(value []byte)) (unsubscribe func(), err error)
	OnDisconnectSet(ctx context.Context, path string, value any) error
	CancelOnDisconnect(ctx context.Context, path string) error
	// Done is closed once the connection is gone, by Close or by the server.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a Channel authenticated with a session token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// LocalDialer connects straight to an in-process Service.
type LocalDialer struct {
	Service *Service
}

func (d LocalDialer) Dial(_ context.Context, token string) (Channel, error) {
	id, err := d.Service.Authenticate(token)
	if err != nil {
		return nil, err
	}
	ch := &localChannel{handlers: make(map[string]func([]byte))}
	ch.sess = d.Service.Open(uuid.NewString(), id, ch.deliver)
	return ch, nil
}

type localChannel struct {
	sess *Session

	mu       sync.Mutex
	handlers map[string]func([]byte)
}

func (c *localChannel) deliver(u Update) {
	c.mu.Lock()
	fn := c.handlers[u.SubID]
	c.mu.Unlock()
	if fn != nil {
		fn(u.Value)
	}
}

func (c *localChannel) Set(ctx context.Context, path string, value any) error {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return err
	}
	return c.sess.Set(ctx, path, raw)
}

func (c *localChannel) Subscribe(ctx context.Context, path string, fn func([]byte)) (func(), error) {
	subID := uuid.NewString()
	c.mu.Lock()
	c.handlers[subID] = fn
	c.mu.Unlock()

	if err := c.sess.Subscribe(ctx, subID, path); err != nil {
		c.mu.Lock()
		delete(c.handlers, subID)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.sess.Unsubscribe(subID)
			c.mu.Lock()
			delete(c.handlers, subID)
			c.mu.Unlock()
		})
	}, nil
}

func (c *localChannel) OnDisconnectSet(_ context.Context, path string, value any) error {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return err
	}
	return c.sess.OnDisconnectSet(path, raw)
}

func (c *localChannel) CancelOnDisconnect(_ context.Context, path string) error {
	return c.sess.CancelOnDisconnect(path)
}

func (c *localChannel) Done() <-chan struct{} { return c.sess.Done() }

func (c *localChannel) Close() error {
	c.sess.Close(context.Background())
	return nil
}
