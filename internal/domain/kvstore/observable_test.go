package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabNotifiesLocalAndRemoteWatchers(t *testing.T) {
	ctx := context.Background()
	shared := NewShared(NewMemory(Config{}))
	a := shared.Tab()
	b := shared.Tab()

	var seenA, seenB []Change
	cancelA := a.Watch("token", func(c Change) { seenA = append(seenA, c) })
	b.Watch("", func(c Change) { seenB = append(seenB, c) })

	require.NoError(t, a.Set(ctx, "token", "t1", 0))
	require.NoError(t, a.Set(ctx, "userRole", "Admin", 0))

	require.Len(t, seenA, 1)
	assert.Equal(t, Change{Key: "token", Value: "t1"}, seenA[0])
	require.Len(t, seenB, 2)
	assert.True(t, seenB[0].Remote)
	assert.Equal(t, "userRole", seenB[1].Key)

	v, ok, err := b.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", v)

	cancelA()
	cancelA()
	require.NoError(t, b.Delete(ctx, "token"))
	assert.Len(t, seenA, 1)
	require.Len(t, seenB, 3)
	assert.Equal(t, Change{Key: "token", Deleted: true}, seenB[2])
}

func TestTabDeleteOfMissingKeyIsSilent(t *testing.T) {
	tab := NewObservable(NewMemory(Config{}))
	calls := 0
	tab.Watch("", func(Change) { calls++ })
	require.NoError(t, tab.Delete(context.Background(), "nope"))
	assert.Zero(t, calls)
}

func TestTabCloseDetaches(t *testing.T) {
	ctx := context.Background()
	shared := NewShared(NewMemory(Config{}))
	a := shared.Tab()
	b := shared.Tab()
	calls := 0
	b.Watch("", func(Change) { calls++ })

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))
	require.NoError(t, a.Set(ctx, "k", "v", 0))
	assert.Zero(t, calls)
}
