package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{Memory: &MemoryConfig{GCInterval: 10 * time.Millisecond}})
	t.Cleanup(func() { _ = store.Close(ctx) })

	require.NoError(t, store.Set(ctx, "token", "abc", 0))
	v, ok, err := store.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, store.Set(ctx, "flash", "x", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	_, ok, err = store.Get(ctx, "flash")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, keys)

	require.NoError(t, store.Delete(ctx, "token"))
	_, ok, _ = store.Get(ctx, "token")
	assert.False(t, ok)

	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemory(Config{})
	assert.ErrorIs(t, store.Set(context.Background(), "", "v", 0), ErrEmptyKey)
	_, _, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestClearExcept(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{})
	for _, k := range []string{"token", "userRole", "la", "lo", "city", "device_id"} {
		require.NoError(t, store.Set(ctx, k, "v-"+k, 0))
	}

	require.NoError(t, ClearExcept(ctx, store, "la", "lo", "city"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "la", "lo"}, keys)
	assert.Equal(t, "v-la", GetString(ctx, store, "la"))
	assert.Equal(t, "", GetString(ctx, store, "token"))
	assert.Equal(t, "", GetString(ctx, nil, "token"))
}
