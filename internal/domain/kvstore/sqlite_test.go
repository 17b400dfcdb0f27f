package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nrich-session-guard/internal/platform/storage"
)

func newTestSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)

	local, err := NewSQLite(db, Config{Namespace: "local"})
	require.NoError(t, err)
	cookies, err := NewSQLite(db, Config{Namespace: "cookie"})
	require.NoError(t, err)

	require.NoError(t, local.Set(ctx, "token", "first", 0))
	require.NoError(t, local.Set(ctx, "token", "second", 0))
	require.NoError(t, cookies.Set(ctx, "token", "cookie-value", time.Hour))

	v, ok, err := local.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	v, ok, err = cookies.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cookie-value", v)

	require.NoError(t, local.Set(ctx, "stale", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = local.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := local.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, keys)

	require.NoError(t, local.Delete(ctx, "token"))
	_, ok, err = local.Get(ctx, "token")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = cookies.Get(ctx, "token")
	assert.True(t, ok, "namespaces must not leak into each other")
}

func TestNewSQLiteRequiresDB(t *testing.T) {
	_, err := NewSQLite(nil, Config{})
	assert.Error(t, err)
}
