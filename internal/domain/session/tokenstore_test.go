package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/kvstore"
)

func TestTokenStorePrefersCookie(t *testing.T) {
	ctx := context.Background()
	local, cookies := newTestStores()
	s := NewTokenStore(local, cookies, time.Hour)

	assert.False(t, s.HasToken(ctx))
	require.NoError(t, local.Set(ctx, KeyToken, "local-token", 0))
	assert.Equal(t, "local-token", s.Token(ctx))
	require.NoError(t, cookies.Set(ctx, KeyToken, "cookie-token", time.Hour))
	assert.Equal(t, "cookie-token", s.Token(ctx))
	assert.Equal(t, "local-token", s.LocalToken(ctx))
}

func TestTokenStoreSave(t *testing.T) {
	ctx := context.Background()
	local, cookies := newTestStores()
	s := NewTokenStore(local, cookies, time.Hour)

	require.NoError(t, s.Save(ctx, Credentials{
		Token:    "T",
		Role:     auth.RoleAdmin,
		UserData: `{"uid":"1","role":"Admin"}`,
	}))

	assert.Equal(t, "T", kvstore.GetString(ctx, local, KeyToken))
	assert.Equal(t, "T", kvstore.GetString(ctx, cookies, KeyToken))
	assert.Equal(t, "Admin", s.Role(ctx))
	_, ok, _ := local.Get(ctx, KeyNrichToken)
	assert.True(t, ok, "nrich_token is always written locally")
	_, ok, _ = cookies.Get(ctx, KeyNrichToken)
	assert.False(t, ok, "empty nrich_token never becomes a cookie")

	data, err := s.UserData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", auth.ResolveUserID(data))
}

func TestTokenStoreClearPreserves(t *testing.T) {
	ctx := context.Background()
	local, cookies := newTestStores()
	s := NewTokenStore(local, cookies, time.Hour)
	require.NoError(t, s.Save(ctx, Credentials{Token: "T", NrichToken: "N", Role: auth.RoleAdmin}))
	require.NoError(t, local.Set(ctx, "city", "Pune", 0))
	require.NoError(t, cookies.Set(ctx, "la", "18.5", 0))

	require.NoError(t, s.Clear(ctx, DefaultPreserveKeys))

	keys, _ := local.Keys(ctx)
	assert.Equal(t, []string{"city"}, keys)
	keys, _ = cookies.Keys(ctx)
	assert.Equal(t, []string{"la"}, keys)
}
