package kvstore

import (
	"context"
	"sync"
	"time"
)

// Change describes one mutation seen by a watcher. Remote is true when the
// write came from another Tab sharing the same backing store.
type Change struct {
	Key     string
	Value   string
	Deleted bool
	Remote  bool
}

// WatchFunc receives changes synchronously on the writer's goroutine.
type WatchFunc func(Change)

// Shared groups the tabs that read and write one backing store.
type Shared struct {
	backing Store

	mu   sync.Mutex
	tabs map[*Tab]struct{}
}

// NewShared wraps backing so several tabs can observe each other's writes.
func NewShared(backing Store) *Shared {
	return &Shared{backing: backing, tabs: make(map[*Tab]struct{})}
}

// Tab opens a new observing view over the shared store.
func (s *Shared) Tab() *Tab {
	t := &Tab{shared: s, watchers: make(map[uint64]watcher)}
	s.mu.Lock()
	s.tabs[t] = struct{}{}
	s.mu.Unlock()
	return t
}

// Backing exposes the underlying store.
func (s *Shared) Backing() Store { return s.backing }

func (s *Shared) detach(t *Tab) {
	s.mu.Lock()
	delete(s.tabs, t)
	s.mu.Unlock()
}

func (s *Shared) broadcast(origin *Tab, ch Change) {
	s.mu.Lock()
	tabs := make([]*Tab, 0, len(s.tabs))
	for t := range s.tabs {
		tabs = append(tabs, t)
	}
	s.mu.Unlock()

	for _, t := range tabs {
		c := ch
		c.Remote = t != origin
		t.notify(c)
	}
}

type watcher struct {
	key string
	fn  WatchFunc
}

// Tab is a Store whose writes notify watchers in this tab and every other tab
// of the same Shared group. It replaces polling for token and role changes.
type Tab struct {
	shared *Shared

	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]watcher
	closed   bool
}

// NewObservable is shorthand for a single-tab group.
func NewObservable(backing Store) *Tab {
	return NewShared(backing).Tab()
}

func (t *Tab) Get(ctx context.Context, key string) (string, bool, error) {
	return t.shared.backing.Get(ctx, key)
}

func (t *Tab) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := t.shared.backing.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	t.shared.broadcast(t, Change{Key: key, Value: value})
	return nil
}

func (t *Tab) Delete(ctx context.Context, key string) error {
	_, existed, _ := t.shared.backing.Get(ctx, key)
	if err := t.shared.backing.Delete(ctx, key); err != nil {
		return err
	}
	if existed {
		t.shared.broadcast(t, Change{Key: key, Deleted: true})
	}
	return nil
}

func (t *Tab) Keys(ctx context.Context) ([]string, error) {
	return t.shared.backing.Keys(ctx)
}

// Close detaches the tab. The backing store stays open for the other tabs.
func (t *Tab) Close(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.watchers = make(map[uint64]watcher)
	t.mu.Unlock()
	t.shared.detach(t)
	return nil
}

// Watch registers fn for key. An empty key watches every key. The returned
// cancel func is idempotent.
func (t *Tab) Watch(key string, fn WatchFunc) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = watcher{key: key, fn: fn}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
		})
	}
}

func (t *Tab) notify(ch Change) {
	t.mu.Lock()
	fns := make([]WatchFunc, 0, len(t.watchers))
	for _, w := range t.watchers {
		if w.key == "" || w.key == ch.Key {
			fns = append(fns, w.fn)
		}
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Watcher is implemented by stores that push change notifications.
type Watcher interface {
	Watch(key string, fn WatchFunc) (cancel func())
}

var _ Watcher = (*Tab)(nil)
