package presence

import (
	"context"
	"sync"
	"time"

	"nrich-session-guard/internal/domain/eventbus"
)

const outboundBuffer = 256

type hook struct {
	path  string
	value []byte
}

// Session is one authenticated connection's view of the tree.
type Session struct {
	svc *Service
	id  string
	uid string

	mu     sync.Mutex
	subs   map[string]func()
	hooks  []hook
	closed bool

	out   chan Update
	done  chan struct{}
	drain chan struct{}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.uid }

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) authorize(path string) error {
	if !ValidPath(path) {
		return ErrInvalidPath
	}
	owner, ok := OwnerOf(path)
	if !ok || owner != s.uid {
		return ErrForbidden
	}
	return nil
}

// Set writes value at path.
func (s *Session) Set(ctx context.Context, path string, value []byte) error {
	if err := s.authorize(path); err != nil {
		return err
	}
	if err := validateValue(path, value); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	return s.svc.write(ctx, path, value, s.id, SourceClient)
}

// Subscribe pushes the current value at path and then every change,
// including this session's own writes. Re-using subID replaces the previous
// subscription.
func (s *Session) Subscribe(ctx context.Context, subID, path string) error {
	if err := s.authorize(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.subs[subID]; ok {
		prev()
	}
	cancel, err := s.svc.tree.Watch(ctx, path, func(value []byte) {
		s.enqueue(Update{SubID: subID, Path: path, Value: value})
	})
	if err != nil {
		delete(s.subs, subID)
		return err
	}
	s.subs[subID] = cancel
	return nil
}

// Unsubscribe is idempotent.
func (s *Session) Unsubscribe(subID string) {
	s.mu.Lock()
	cancel, ok := s.subs[subID]
	delete(s.subs, subID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// OnDisconnectSet registers a write the server performs when the session ends.
func (s *Session) OnDisconnectSet(path string, value []byte) error {
	if err := s.authorize(path); err != nil {
		return err
	}
	if err := validateValue(path, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hooks = append(s.hooks, hook{path: path, value: clone(value)})
	return nil
}

// CancelOnDisconnect drops every hook registered for path. Cancelling twice
// is not an error.
func (s *Session) CancelOnDisconnect(path string) error {
	if err := s.authorize(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.hooks[:0]
	for _, h := range s.hooks {
		if h.path != path {
			kept = append(kept, h)
		}
	}
	s.hooks = kept
	return nil
}

// Close cancels subscriptions and fires disconnect hooks in registration
// order. It is idempotent. It waits for the push goroutine, so push itself
// must never call Close.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]func())
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	for _, h := range hooks {
		if err := s.svc.write(ctx, h.path, h.value, s.id, SourceDisconnect); err != nil {
			s.svc.logger.Warn("disconnect hook %s failed: %v", h.path, err)
		}
	}
	if s.svc.events != nil {
		s.svc.events.PublishAsync(eventbus.EventPresenceDisconnected, eventbus.PresenceEventData{
			UserID: s.uid, ConnID: s.id, Source: SourceDisconnect, At: time.Now(),
		})
	}

	close(s.drain)
	<-s.done
	s.svc.forget(s.id)
	s.svc.logger.Info("presence session closed conn=%s uid=%s hooks=%d", s.id, s.uid, len(hooks))
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enqueue never blocks the tree. A subscriber that falls this far behind is
// disconnected.
func (s *Session) enqueue(u Update) {
	select {
	case s.out <- u:
	default:
		s.svc.logger.Warn("presence session %s outbound queue full, closing", s.id)
		go s.Close(context.Background())
	}
}

func (s *Session) pump(push func(Update)) {
	defer close(s.done)
	for {
		select {
		case u := <-s.out:
			push(u)
		case <-s.drain:
			for {
				select {
				case u := <-s.out:
					push(u)
				default:
					return
				}
			}
		}
	}
}
