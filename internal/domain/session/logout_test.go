package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogoutRedirectResolution(t *testing.T) {
	cases := []struct {
		name     string
		userData string
		explicit string
		want     string
	}{
		{"explicit wins", `{"onDomain":"https://a.example"}`, "https://x.example", "https://x.example"},
		{"top level onDomain", `{"onDomain":"https://a.example","user":{"onDomain":"https://b.example"}}`, "", "https://a.example"},
		{"nested onDomain", `{"user":{"onDomain":"https://b.example"}}`, "", "https://b.example"},
		{"no profile", "", "", "https://nrichlearning.com/"},
		{"broken profile", "{nope", "", "https://nrichlearning.com/"},
		{"null onDomain falls through", `{"onDomain":null,"user":{"onDomain":"https://b.example"}}`, "", "https://b.example"},
		{"empty onDomain uses base", `{"onDomain":"","user":{"onDomain":"https://b.example"}}`, "", "https://nrichlearning.com/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			local, cookies := newTestStores()
			tokens := NewTokenStore(local, cookies, time.Hour)
			if tc.userData != "" {
				require.NoError(t, local.Set(ctx, KeyUserData, tc.userData, 0))
			}
			got := NewLogout(tokens, "https://nrichlearning.com/", nil, nil).Run(ctx, tc.explicit)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLogoutClearsExceptPreserved(t *testing.T) {
	ctx := context.Background()
	local, cookies := newTestStores()
	tokens := NewTokenStore(local, cookies, time.Hour)
	require.NoError(t, tokens.Save(ctx, Credentials{Token: "T", NrichToken: "N", Role: "Admin"}))
	for _, k := range []string{"la", "lo", "city", KeyRefreshed, "device_id"} {
		require.NoError(t, local.Set(ctx, k, "v", 0))
	}
	require.NoError(t, cookies.Set(ctx, "lo", "73.8", 0))

	NewLogout(tokens, "https://base.example/", nil, nil).Run(ctx, "")

	keys, _ := local.Keys(ctx)
	assert.Equal(t, []string{"city", "la", "lo"}, keys)
	keys, _ = cookies.Keys(ctx)
	assert.Equal(t, []string{"lo"}, keys)
	assert.False(t, tokens.HasToken(ctx))
}
