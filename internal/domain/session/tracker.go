package session

import (
	"context"
	"sync"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/platform/logging"
)

// PendingUserID marks a session whose token is known but whose user id must
// still be fetched from the backend.
const PendingUserID = "pending"

// Tracker resolves the user id the presence guard should track.
type Tracker struct {
	tokens *TokenStore
	bus    eventbus.Bus
	logger logging.Leveled

	mu        sync.Mutex
	uid       string
	listeners []func(string)

	kick chan struct{}
}

// NewTracker builds a tracker.
func NewTracker(tokens *TokenStore, bus eventbus.Bus, logger logging.Leveled) *Tracker {
	return &Tracker{
		tokens: tokens,
		bus:    bus,
		logger: logging.OrNop(logger),
		kick:   make(chan struct{}, 1),
	}
}

// OnChange registers fn. Listeners run on the tracker goroutine, never inside
// a bus handler, so they may publish freely.
func (t *Tracker) OnChange(fn func(uid string)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// UserID returns the last resolved id: a real id, PendingUserID or "".
func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uid
}

// Start resolves immediately and then on userData/token writes and on
// user:logged-in. stop is idempotent.
func (t *Tracker) Start(ctx context.Context) (stop func(), err error) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	sub, err := eventbus.Listen(t.bus, eventbus.EventUserLoggedIn, func(eventbus.AuthEventData) {
		t.trigger()
	})
	if err != nil {
		cancel()
		return nil, err
	}

	var unwatch []func()
	if w, ok := t.tokens.Local().(kvstore.Watcher); ok {
		for _, key := range []string{KeyUserData, KeyToken} {
			unwatch = append(unwatch, w.Watch(key, func(kvstore.Change) { t.trigger() }))
		}
	}

	t.resolve(loopCtx)
	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-t.kick:
				t.resolve(loopCtx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Close()
			for _, u := range unwatch {
				u()
			}
			cancel()
			<-done
		})
	}, nil
}

func (t *Tracker) trigger() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Tracker) resolve(ctx context.Context) {
	uid := ""
	data, err := t.tokens.UserData(ctx)
	if err != nil {
		t.logger.Warn("parse userData failed: %v", err)
	}
	if id := auth.ResolveUserID(data); id != "" {
		uid = id
	} else if t.tokens.LocalToken(ctx) != "" {
		uid = PendingUserID
	}

	t.mu.Lock()
	if uid == t.uid {
		t.mu.Unlock()
		return
	}
	t.uid = uid
	fns := append([]func(string){}, t.listeners...)
	t.mu.Unlock()

	t.logger.Debug("tracked user id now %q", uid)
	for _, fn := range fns {
		fn(uid)
	}
}
