package session

import (
	"context"
	"sync"
	"time"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/platform/logging"
)

// State is the decoder's current view. Err is set only when a token is
// present but undecodable; it is never returned to callers.
type State struct {
	Token    string
	Identity *auth.Identity
	UserData map[string]any
	Loading  bool
	Err      error
}

// Anonymous reports whether no usable identity is known.
func (s State) Anonymous() bool { return s.Identity == nil }

// Decoder keeps State in sync with the token in both stores.
type Decoder struct {
	tokens       *TokenStore
	logger       logging.Leveled
	pollInterval time.Duration

	mu        sync.RWMutex
	state     State
	nextID    int
	listeners map[int]func(State)
}

// NewDecoder builds a decoder. pollInterval only applies to stores that do
// not implement kvstore.Watcher; zero disables polling.
func NewDecoder(tokens *TokenStore, logger logging.Leveled, pollInterval time.Duration) *Decoder {
	return &Decoder{
		tokens:       tokens,
		logger:       logging.OrNop(logger),
		pollInterval: pollInterval,
		state:        State{Loading: true},
		listeners:    make(map[int]func(State)),
	}
}

// Start decodes once and then re-decodes on every token change. The returned
// stop func is idempotent.
func (d *Decoder) Start(ctx context.Context) (stop func()) {
	d.Refresh(ctx)

	var cancels []func()
	var unwatched []kvstore.Store
	for _, store := range []kvstore.Store{d.tokens.Cookies(), d.tokens.Local()} {
		if store == nil {
			continue
		}
		if w, ok := store.(kvstore.Watcher); ok {
			cancels = append(cancels, w.Watch(KeyToken, func(kvstore.Change) {
				d.Refresh(ctx)
			}))
			continue
		}
		unwatched = append(unwatched, store)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	cancels = append(cancels, cancelPoll)
	if len(unwatched) > 0 && d.pollInterval > 0 {
		go d.poll(pollCtx)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, c := range cancels {
				c()
			}
		})
	}
}

func (d *Decoder) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	last := d.tokens.Token(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := d.tokens.Token(ctx)
			if current != last {
				last = current
				d.Refresh(ctx)
			}
		}
	}
}

// Refresh re-reads the token and recomputes State.
func (d *Decoder) Refresh(ctx context.Context) State {
	next := State{Token: d.tokens.Token(ctx)}
	if next.Token != "" {
		id, err := auth.DecodeUnverified(next.Token)
		if err != nil {
			d.logger.Warn("decode token failed: %v", err)
			next.Err = err
		} else {
			next.Identity = id
			next.UserData = id.Payload
		}
	}

	d.mu.Lock()
	changed := !sameState(d.state, next)
	d.state = next
	fns := make([]func(State), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(next)
		}
	}
	return next
}

func sameState(a, b State) bool {
	return a.Token == b.Token && a.Loading == b.Loading && (a.Err == nil) == (b.Err == nil)
}

// State returns the latest decoded state.
func (d *Decoder) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// OnChange registers fn for state changes.
func (d *Decoder) OnChange(fn func(State)) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}
