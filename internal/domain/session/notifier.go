package session

import (
	"context"
	"sync"
	"sync/atomic"

	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/platform/logging"
)

// Prompter shows blocking notices. ConfirmDisplaced returns once the user
// acknowledges "Session Terminated".
type Prompter interface {
	ConfirmDisplaced(ctx context.Context) error
}

// Notifier surfaces displacement and performs the logout on acknowledgement.
type Notifier struct {
	tokens   *TokenStore
	logout   *Logout
	bus      eventbus.Bus
	prompter Prompter
	nav      Navigator
	logger   logging.Leveled

	showing atomic.Bool
	wg      sync.WaitGroup
}

// NewNotifier wires the notifier.
func NewNotifier(tokens *TokenStore, logout *Logout, bus eventbus.Bus, prompter Prompter, nav Navigator, logger logging.Leveled) *Notifier {
	return &Notifier{
		tokens:   tokens,
		logout:   logout,
		bus:      bus,
		prompter: prompter,
		nav:      nav,
		logger:   logging.OrNop(logger),
	}
}

// Start consumes a pending refreshed flag and begins listening. stop is
// idempotent and waits for an in-flight notice to finish.
func (n *Notifier) Start(ctx context.Context) (stop func(), err error) {
	local := n.tokens.Local()
	if kvstore.GetString(ctx, local, KeyRefreshed) != "" {
		if err := local.Delete(ctx, KeyRefreshed); err != nil {
			n.logger.Warn("remove refreshed flag failed: %v", err)
		}
		n.show(ctx)
	}

	sub, err := eventbus.Listen(n.bus, eventbus.EventUserLoggedOut, func(data eventbus.AuthEventData) {
		if data.Reason == eventbus.ReasonDisplaced {
			n.show(ctx)
		}
	})
	if err != nil {
		return nil, err
	}

	unwatch := func() {}
	if w, ok := local.(kvstore.Watcher); ok {
		unwatch = w.Watch(KeyRefreshed, func(c kvstore.Change) {
			if c.Remote && !c.Deleted {
				n.show(ctx)
			}
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Close()
			unwatch()
			n.wg.Wait()
		})
	}, nil
}

// show runs at most one notice at a time, off the caller's goroutine so bus
// handlers never block on the user.
func (n *Notifier) show(ctx context.Context) {
	if !n.showing.CompareAndSwap(false, true) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.showing.Store(false)

		n.logger.Warn("session terminated: account opened on another device")
		if err := n.prompter.ConfirmDisplaced(ctx); err != nil {
			n.logger.Warn("displacement notice closed without acknowledgement: %v", err)
			return
		}
		target := n.logout.Run(ctx, "")
		if n.nav != nil {
			n.nav.Replace(target)
		}
	}()
}
