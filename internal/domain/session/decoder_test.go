package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/kvstore"
)

func TestDecoderAnonymousWithoutToken(t *testing.T) {
	local, cookies := newTestStores()
	d := NewDecoder(NewTokenStore(local, cookies, time.Hour), nil, 0)
	assert.True(t, d.State().Loading)

	stop := d.Start(context.Background())
	defer stop()

	st := d.State()
	assert.False(t, st.Loading)
	assert.True(t, st.Anonymous())
	assert.NoError(t, st.Err)
	assert.Nil(t, st.UserData)
}

func TestDecoderReactsToWrites(t *testing.T) {
	ctx := context.Background()
	local, cookies := newTestStores()
	d := NewDecoder(NewTokenStore(local, cookies, time.Hour), nil, 0)

	var changes atomic.Int32
	d.OnChange(func(State) { changes.Add(1) })
	stop := d.Start(ctx)
	defer stop()

	tok := mustToken(t, map[string]any{"uid": "u1", "role": "Admin", "company_id": "c1"})
	require.NoError(t, cookies.Set(ctx, KeyToken, tok, time.Hour))

	st := d.State()
	require.NotNil(t, st.Identity)
	assert.Equal(t, "u1", st.Identity.UID)
	assert.Equal(t, tok, st.Token)
	assert.Equal(t, "c1", st.Identity.CompanyID)

	require.NoError(t, cookies.Set(ctx, KeyToken, "garbage", time.Hour))
	st = d.State()
	assert.Error(t, st.Err)
	assert.True(t, st.Anonymous())

	require.NoError(t, cookies.Delete(ctx, KeyToken))
	assert.True(t, d.State().Anonymous())
	assert.NoError(t, d.State().Err)

	assert.Equal(t, int32(4), changes.Load())

	stop()
	stop()
	require.NoError(t, cookies.Set(ctx, KeyToken, tok, time.Hour))
	assert.True(t, d.State().Anonymous(), "stopped decoder ignores writes")
}

func TestDecoderPollsUnobservableStores(t *testing.T) {
	ctx := context.Background()
	cookies := kvstore.NewMemory(kvstore.Config{})
	local := kvstore.NewMemory(kvstore.Config{})
	d := NewDecoder(NewTokenStore(local, cookies, time.Hour), nil, 10*time.Millisecond)
	stop := d.Start(ctx)
	defer stop()

	require.NoError(t, cookies.Set(ctx, KeyToken, mustToken(t, map[string]any{"uid": "u2"}), time.Hour))
	require.Eventually(t, func() bool {
		id := d.State().Identity
		return id != nil && id.UID == "u2"
	}, time.Second, 10*time.Millisecond)
}
