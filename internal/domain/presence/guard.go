package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/device"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/session"
	platformerrors "nrich-session-guard/internal/platform/errors"
	"nrich-session-guard/internal/platform/logging"
)

// ErrInactive is returned when the guard declines to activate. The session
// carries on without presence tracking.
var ErrInactive = errors.New("presence: guard inactive")

// UserLookup fetches the current user's id from the backend.
type UserLookup interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// GuardOptions wires a Guard.
type GuardOptions struct {
	Dialer  Dialer
	Devices *device.Provider
	Tokens  *session.TokenStore
	Bus     eventbus.Bus
	Lookup  UserLookup
	Nav     session.Navigator
	Logger  logging.Leveled
}

// Guard is the Session Guard: it announces this device as the user's active
// session and reacts when another device takes over.
type Guard struct {
	opts   GuardOptions
	logger logging.Leveled

	mu      sync.Mutex
	channel Channel
	// token the channel authenticated with; the server binds the uid to it
	channelToken string
	active       *activation
}

type activation struct {
	uid         string
	unsubscribe func()
	cancelHook  func()
	displaced   atomic.Bool
	stopped     atomic.Bool
	teardown    sync.Once
}

// NewGuard builds a guard.
func NewGuard(opts GuardOptions) *Guard {
	return &Guard{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Active returns the tracked uid, or "" when inactive.
func (g *Guard) Active() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ""
	}
	return g.active.uid
}

// Activate tears down any previous activation and starts tracking uid, which
// may be "" or session.PendingUserID. Every failure leaves the guard
// inactive; callers log the error and carry on.
func (g *Guard) Activate(ctx context.Context, uid string) error {
	g.Deactivate()

	token := g.opts.Tokens.LocalToken(ctx)
	if token == "" {
		g.mu.Lock()
		g.dropChannelLocked()
		g.mu.Unlock()
		return fmt.Errorf("%w: no local token", ErrInactive)
	}

	uid = g.resolveUserID(ctx, uid)
	if uid == "" {
		return fmt.Errorf("%w: user id unresolved", ErrInactive)
	}

	deviceID := g.opts.Devices.DeviceID(ctx)
	if deviceID == "" {
		return fmt.Errorf("%w: no device id", ErrInactive)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channelLocked(ctx, token)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindPresence, "guard.activate", "dial presence channel", err)
	}
	// a connection that died mid-activation is re-dialled next time
	defer func() {
		if g.active == nil && isDone(ch) {
			g.dropChannelLocked()
		}
	}()

	statusPath, devicePath := StatusPath(uid), DevicePath(uid)
	if err := ch.Set(ctx, statusPath, true); err != nil {
		return platformerrors.Wrap(platformerrors.KindPresence, "guard.activate", "set status", err)
	}
	if err := ch.Set(ctx, devicePath, deviceID); err != nil {
		return platformerrors.Wrap(platformerrors.KindPresence, "guard.activate", "set device", err)
	}
	if err := ch.OnDisconnectSet(ctx, statusPath, false); err != nil {
		return platformerrors.Wrap(platformerrors.KindPresence, "guard.activate", "register disconnect hook", err)
	}

	act := &activation{uid: uid}
	act.cancelHook = func() {
		if err := ch.CancelOnDisconnect(context.Background(), statusPath); err != nil {
			g.logger.Debug("cancel disconnect hook: %v", err)
		}
	}
	unsubscribe, err := ch.Subscribe(ctx, devicePath, func(raw []byte) {
		g.onDevice(act, ch, devicePath, raw)
	})
	if err != nil {
		act.cancelHook()
		return platformerrors.Wrap(platformerrors.KindPresence, "guard.activate", "subscribe device", err)
	}
	act.unsubscribe = unsubscribe
	g.active = act

	g.logger.Info("presence active uid=%s device=%s", uid, deviceID)
	return nil
}

func (g *Guard) resolveUserID(ctx context.Context, uid string) string {
	if uid != "" && uid != session.PendingUserID {
		return uid
	}
	if g.opts.Lookup != nil {
		id, err := g.opts.Lookup.CurrentUserID(ctx)
		if err == nil && id != "" {
			return id
		}
		if err != nil {
			g.logger.Warn("fetch current user failed: %v", err)
		}
	}
	data, err := g.opts.Tokens.UserData(ctx)
	if err != nil {
		g.logger.Warn("parse userData failed: %v", err)
		return ""
	}
	return auth.ResolveUserID(data)
}

// channelLocked reuses the open channel only while it is alive and was
// authenticated with the current token.
func (g *Guard) channelLocked(ctx context.Context, token string) (Channel, error) {
	if g.channel != nil {
		if g.channelToken == token && !isDone(g.channel) {
			return g.channel, nil
		}
		g.dropChannelLocked()
	}
	ch, err := g.opts.Dialer.Dial(ctx, token)
	if err != nil {
		return nil, err
	}
	g.channel, g.channelToken = ch, token
	return ch, nil
}

// dropChannelLocked closes the cached channel. Callers deactivate first, so
// no disconnect hook is left to fire.
func (g *Guard) dropChannelLocked() {
	if g.channel == nil {
		return
	}
	if err := g.channel.Close(); err != nil {
		g.logger.Debug("close presence channel: %v", err)
	}
	g.channel, g.channelToken = nil, ""
}

func isDone(ch Channel) bool {
	select {
	case <-ch.Done():
		return true
	default:
		return false
	}
}

func (g *Guard) onDevice(act *activation, ch Channel, devicePath string, raw []byte) {
	if act.stopped.Load() || raw == nil {
		return
	}
	var remote string
	if err := sonic.Unmarshal(raw, &remote); err != nil {
		g.logger.Warn("device value is not a string: %s", string(raw))
		return
	}

	ctx := context.Background()
	if remote == g.opts.Devices.DeviceID(ctx) {
		return
	}

	if remote == DeviceReloadSentinel {
		fresh := g.opts.Devices.Regenerate(ctx)
		g.logger.Info("reload requested for uid=%s, new device=%s", act.uid, fresh)
		if err := ch.Set(ctx, devicePath, fresh); err != nil {
			g.logger.Warn("rewrite device after reload request failed: %v", err)
		}
		if g.opts.Nav != nil {
			g.opts.Nav.Reload()
		}
		return
	}

	if !act.displaced.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warn("uid=%s displaced by device %s", act.uid, remote)
	// the new device owns status now; this session must not flip it offline
	if act.cancelHook != nil {
		act.cancelHook()
	}
	if err := g.opts.Tokens.Local().Set(ctx, session.KeyRefreshed, "true", 0); err != nil {
		g.logger.Warn("persist refreshed flag failed: %v", err)
	}
	g.opts.Bus.Publish(eventbus.EventUserLoggedOut, eventbus.AuthEventData{
		UserID: act.uid,
		Reason: eventbus.ReasonDisplaced,
	})
}

// Deactivate unsubscribes and cancels the disconnect hook. Idempotent.
func (g *Guard) Deactivate() {
	g.mu.Lock()
	act := g.active
	g.active = nil
	g.mu.Unlock()
	if act == nil {
		return
	}
	act.teardown.Do(func() {
		act.stopped.Store(true)
		if act.unsubscribe != nil {
			act.unsubscribe()
		}
		if act.cancelHook != nil {
			act.cancelHook()
		}
	})
}

// Release deactivates and drops the channel. Used on logout, when the next
// session may belong to another user.
func (g *Guard) Release() {
	g.Deactivate()
	g.mu.Lock()
	g.dropChannelLocked()
	g.mu.Unlock()
}

// Close drops the channel without cancelling the disconnect hook, so the
// server flips status to false. Idempotent.
func (g *Guard) Close() error {
	g.mu.Lock()
	act := g.active
	g.active = nil
	ch := g.channel
	g.channel, g.channelToken = nil, ""
	g.mu.Unlock()

	if act != nil {
		act.stopped.Store(true)
		if act.unsubscribe != nil {
			act.unsubscribe()
		}
	}
	if ch == nil {
		return nil
	}
	return ch.Close()
}
