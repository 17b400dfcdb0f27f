package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/device"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/session"
)

type recordingNav struct {
	mu       sync.Mutex
	reloads  int
	replaced []string
}

func (n *recordingNav) Replace(target string) {
	n.mu.Lock()
	n.replaced = append(n.replaced, target)
	n.mu.Unlock()
}

func (n *recordingNav) Reload() {
	n.mu.Lock()
	n.reloads++
	n.mu.Unlock()
}

func (n *recordingNav) reloadCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloads
}

type staticLookup struct {
	uid string
	err error
}

func (l staticLookup) CurrentUserID(context.Context) (string, error) { return l.uid, l.err }

type failingDialer struct{}

func (failingDialer) Dial(context.Context, string) (Channel, error) {
	return nil, errors.New("realtime backend unreachable")
}

// browser is one client profile: its own stores, device id and bus.
type browser struct {
	local     *kvstore.Tab
	tokens    *session.TokenStore
	devices   *device.Provider
	bus       eventbus.Bus
	nav       *recordingNav
	guard     *Guard
	loggedOut atomic.Int32
}

func newBrowser(t *testing.T, dialer Dialer, uid string, lookup UserLookup) *browser {
	t.Helper()
	ctx := context.Background()
	local := kvstore.NewObservable(kvstore.NewMemory(kvstore.Config{}))
	cookies := kvstore.NewObservable(kvstore.NewMemory(kvstore.Config{}))
	b := &browser{
		local:   local,
		tokens:  session.NewTokenStore(local, cookies, time.Hour),
		devices: device.NewProvider(local, nil),
		bus:     eventbus.New(),
		nav:     &recordingNav{},
	}
	if uid != "" {
		require.NoError(t, b.tokens.Save(ctx, session.Credentials{Token: tokenFor(t, uid), Role: "Admin"}))
	}
	require.NoError(t, b.bus.Subscribe(eventbus.EventUserLoggedOut, func(data eventbus.AuthEventData) {
		if data.Reason == eventbus.ReasonDisplaced {
			b.loggedOut.Add(1)
		}
	}))
	b.guard = NewGuard(GuardOptions{
		Dialer:  dialer,
		Devices: b.devices,
		Tokens:  b.tokens,
		Bus:     b.bus,
		Lookup:  lookup,
		Nav:     b.nav,
	})
	t.Cleanup(func() { _ = b.guard.Close() })
	return b
}

func TestGuardSelfEchoIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	a := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)

	require.NoError(t, a.guard.Activate(ctx, "u1"))
	assert.Equal(t, "u1", a.guard.Active())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, a.loggedOut.Load())
	_, ok, _ := a.local.Get(ctx, session.KeyRefreshed)
	assert.False(t, ok)

	rec, err := svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Status)
	assert.Equal(t, a.devices.DeviceID(ctx), rec.Device)
}

func TestGuardDisplacementLogsOutExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	dialer := LocalDialer{Service: svc}
	a := newBrowser(t, dialer, "u1", nil)
	b := newBrowser(t, dialer, "u1", nil)

	require.NoError(t, a.guard.Activate(ctx, "u1"))
	require.NoError(t, b.guard.Activate(ctx, "u1"))

	require.Eventually(t, func() bool { return a.loggedOut.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "true", kvstore.GetString(ctx, a.local, session.KeyRefreshed))

	// further foreign writes do not start a second logout sequence
	require.NoError(t, b.guard.Activate(ctx, "u1"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), a.loggedOut.Load())
	assert.Zero(t, b.loggedOut.Load())

	rec, err := svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, b.devices.DeviceID(ctx), rec.Device)

	// the displaced session closing must not mark the new one offline
	require.NoError(t, a.guard.Close())
	rec, err = svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Status)
}

func TestGuardReloadSentinelRegenerates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	a := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)

	require.NoError(t, a.guard.Activate(ctx, "u1"))
	before := a.devices.DeviceID(ctx)

	require.NoError(t, svc.RequestReload(ctx, "u1"))
	require.Eventually(t, func() bool { return a.nav.reloadCount() == 1 }, time.Second, 5*time.Millisecond)

	after := a.devices.DeviceID(ctx)
	assert.NotEqual(t, before, after)
	require.Eventually(t, func() bool {
		rec, _ := svc.Record(ctx, "u1")
		return rec.Device == after
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, a.loggedOut.Load(), "reload is not a displacement")
}

func TestGuardDisconnectFlipsStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	a := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, a.guard.Activate(ctx, "u1"))

	require.NoError(t, a.guard.Close())
	require.NoError(t, a.guard.Close())

	rec, err := svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.Status)
}

func TestGuardDeactivateCancelsHookAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	a := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, a.guard.Activate(ctx, "u1"))

	a.guard.Deactivate()
	a.guard.Deactivate()
	assert.Equal(t, "", a.guard.Active())

	other := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, other.guard.Activate(ctx, "u1"))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, a.loggedOut.Load(), "unsubscribed guard ignores takeovers")
}

func TestGuardFailsOpen(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	t.Run("no token", func(t *testing.T) {
		b := newBrowser(t, LocalDialer{Service: svc}, "", nil)
		err := b.guard.Activate(ctx, "u1")
		assert.ErrorIs(t, err, ErrInactive)
		assert.Equal(t, "", b.guard.Active())
	})

	t.Run("unresolved user", func(t *testing.T) {
		b := newBrowser(t, LocalDialer{Service: svc}, "u1", staticLookup{err: errors.New("404")})
		err := b.guard.Activate(ctx, session.PendingUserID)
		assert.ErrorIs(t, err, ErrInactive)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		b := newBrowser(t, failingDialer{}, "u1", nil)
		err := b.guard.Activate(ctx, "u1")
		assert.Error(t, err)
		assert.Equal(t, "", b.guard.Active())
	})

	t.Run("token for another user", func(t *testing.T) {
		b := newBrowser(t, LocalDialer{Service: svc}, "u2", nil)
		err := b.guard.Activate(ctx, "u1")
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestGuardPendingUsesLookupThenProfile(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	viaAPI := newBrowser(t, LocalDialer{Service: svc}, "u1", staticLookup{uid: "u1"})
	require.NoError(t, viaAPI.guard.Activate(ctx, session.PendingUserID))
	assert.Equal(t, "u1", viaAPI.guard.Active())

	viaProfile := newBrowser(t, LocalDialer{Service: svc}, "u3", staticLookup{})
	require.NoError(t, viaProfile.local.Set(ctx, session.KeyUserData, `{"user":{"id":"u3"}}`, 0))
	require.NoError(t, viaProfile.guard.Activate(ctx, ""))
	assert.Equal(t, "u3", viaProfile.guard.Active())
}

func TestGuardRedialsForNextUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	b := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, b.guard.Activate(ctx, "u1"))

	// logout, then another account signs in on the same profile
	b.guard.Deactivate()
	require.NoError(t, b.tokens.Clear(ctx, nil))
	assert.ErrorIs(t, b.guard.Activate(ctx, ""), ErrInactive)
	require.Eventually(t, func() bool { return svc.Sessions() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.tokens.Save(ctx, session.Credentials{Token: tokenFor(t, "u2"), Role: "Admin"}))
	require.NoError(t, b.guard.Activate(ctx, "u2"))
	assert.Equal(t, "u2", b.guard.Active())

	rec, err := svc.Record(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, rec.Status)
	assert.Equal(t, b.devices.DeviceID(ctx), rec.Device)
	assert.Equal(t, 1, svc.Sessions())
}

func TestGuardRedialsWhenTokenChanges(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	b := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, b.guard.Activate(ctx, "u1"))

	require.NoError(t, b.tokens.Save(ctx, session.Credentials{Token: tokenFor(t, "u2"), Role: "Admin"}))
	require.NoError(t, b.guard.Activate(ctx, "u2"))
	assert.Equal(t, "u2", b.guard.Active())
	assert.Equal(t, 1, svc.Sessions())
}

func TestGuardReactivatesAfterServerDropsSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	b := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, b.guard.Activate(ctx, "u1"))

	svc.Close(ctx)
	rec, err := svc.Record(ctx, "u1")
	require.NoError(t, err)
	require.False(t, rec.Status)

	require.NoError(t, b.guard.Activate(ctx, "u1"))
	assert.Equal(t, "u1", b.guard.Active())
	rec, err = svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Status)
	assert.Equal(t, 1, svc.Sessions())
}

func TestGuardReleaseKeepsStatusAndDropsConnection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	b := newBrowser(t, LocalDialer{Service: svc}, "u1", nil)
	require.NoError(t, b.guard.Activate(ctx, "u1"))

	b.guard.Release()
	b.guard.Release()
	assert.Equal(t, "", b.guard.Active())
	assert.Equal(t, 0, svc.Sessions())

	rec, err := svc.Record(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Status, "hook was cancelled before the connection closed")
}
