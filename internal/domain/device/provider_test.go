package device

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/kvstore"
)

func TestDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(kvstore.Config{})
	p := NewProvider(store, nil)

	first := p.DeviceID(ctx)
	second := p.DeviceID(ctx)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	_, err := uuid.Parse(first)
	assert.NoError(t, err)
	assert.Equal(t, first, kvstore.GetString(ctx, store, StorageKey))
}

func TestDeviceIDAfterClearIsNew(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(kvstore.Config{})
	p := NewProvider(store, nil)

	first := p.DeviceID(ctx)
	require.NoError(t, kvstore.ClearExcept(ctx, store))
	second := p.DeviceID(ctx)

	assert.NotEqual(t, first, second)
	_, err := uuid.Parse(second)
	assert.NoError(t, err)
}

func TestRegenerate(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(kvstore.Config{})
	p := NewProvider(store, nil)

	first := p.DeviceID(ctx)
	next := p.Regenerate(ctx)
	assert.NotEqual(t, first, next)
	assert.Equal(t, next, p.DeviceID(ctx))
}

func TestNilStoreYieldsEmpty(t *testing.T) {
	p := NewProvider(nil, nil)
	assert.Equal(t, "", p.DeviceID(context.Background()))
	assert.Equal(t, "", p.Regenerate(context.Background()))

	var nilProvider *Provider
	assert.Equal(t, "", nilProvider.DeviceID(context.Background()))
}

func TestFallbackWhenRandomUnavailable(t *testing.T) {
	store := kvstore.NewMemory(kvstore.Config{})
	p := NewProvider(store, nil)
	p.newUUID = func() (uuid.UUID, error) { return uuid.Nil, errors.New("no entropy") }
	p.now = func() time.Time { return time.UnixMilli(1700000000123) }

	id := p.DeviceID(context.Background())
	assert.Regexp(t, regexp.MustCompile(`^device_1700000000123_[0-9a-z]{9}$`), id)
}
