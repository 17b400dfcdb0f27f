package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndClose(t *testing.T) {
	bus := New()
	var got []AuthEventData
	sub, err := Listen(bus, EventUserLoggedOut, func(data AuthEventData) {
		got = append(got, data)
	})
	require.NoError(t, err)

	bus.Publish(EventUserLoggedOut, AuthEventData{Reason: ReasonDisplaced})
	sub.Close()
	sub.Close()
	bus.Publish(EventUserLoggedOut, AuthEventData{Reason: ReasonLogout})

	require.Len(t, got, 1)
	assert.Equal(t, ReasonDisplaced, got[0].Reason)
	assert.False(t, bus.HasCallback(EventUserLoggedOut))

	var nilSub *Subscription
	nilSub.Close()
}

func TestAsyncEventBusDeliversAndDrains(t *testing.T) {
	bus := NewAsyncEventBus(2, 16)
	bus.Start()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, bus.Subscribe(EventPresenceWritten, func(data PresenceEventData) {
		mu.Lock()
		seen = append(seen, data.Path)
		mu.Unlock()
	}))

	for _, p := range []string{"/users/u1/status", "/users/u1/device", "/users/u2/status"} {
		assert.True(t, bus.PublishAsync(EventPresenceWritten, PresenceEventData{Path: p}))
	}
	bus.Wait()

	mu.Lock()
	assert.ElementsMatch(t, []string{"/users/u1/status", "/users/u1/device", "/users/u2/status"}, seen)
	mu.Unlock()

	bus.Stop()
	bus.Stop()
	assert.False(t, bus.PublishAsync(EventPresenceWritten, PresenceEventData{}))
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestAsyncEventBusRecoversFromPanics(t *testing.T) {
	bus := NewAsyncEventBus(1, 4)
	bus.Start()
	defer bus.Stop()

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(EventPresenceReload, func(PresenceEventData) {
		calls.Add(1)
		panic("boom")
	}))

	bus.PublishAsync(EventPresenceReload, PresenceEventData{UserID: "u1"})
	bus.PublishAsync(EventPresenceReload, PresenceEventData{UserID: "u2"})
	bus.Wait()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(2), bus.Panicked())
}

func TestAsyncEventBusDropsWhenFull(t *testing.T) {
	bus := NewAsyncEventBus(1, 1)
	// workers not started: the single slot fills and the next event drops
	assert.True(t, bus.PublishAsync(EventPresenceReload, PresenceEventData{}))
	assert.False(t, bus.PublishAsync(EventPresenceReload, PresenceEventData{}))
	assert.Equal(t, uint64(1), bus.Dropped())
	bus.Stop()
}

func TestSetupEventHandlers(t *testing.T) {
	bus := New()
	subs := SetupEventHandlers(bus, nil)
	require.Len(t, subs, 3)
	assert.True(t, bus.HasCallback(EventPresenceWritten))
	bus.Publish(EventPresenceWritten, PresenceEventData{UserID: "u1", Path: "/users/u1/status"})
	for _, s := range subs {
		s.Close()
	}
	assert.False(t, bus.HasCallback(EventPresenceReload))
}
