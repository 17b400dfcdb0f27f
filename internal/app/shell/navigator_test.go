package shell

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/routeguard"
	"nrich-session-guard/internal/domain/session"
)

func newTestNavigator(t *testing.T, role string) *Navigator {
	t.Helper()
	local := kvstore.NewMemory(kvstore.Config{})
	tokens := session.NewTokenStore(local, kvstore.NewMemory(kvstore.Config{}), time.Hour)
	if role != "" {
		require.NoError(t, local.Set(context.Background(), session.KeyToken, "T", 0))
		require.NoError(t, local.Set(context.Background(), session.KeyUserRole, role, 0))
	}
	return NewNavigator(routeguard.NewGuard(tokens, "https://base.example.com/", nil), nil)
}

func TestNavigatorReplace(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		target   string
		path     string
		external string
	}{
		{"absolute url leaves the app", "Admin", "https://other.example.com/x", "", "https://other.example.com/x"},
		{"allowed path", "Admin", "/admin/workflow", "/admin/workflow", ""},
		{"mismatch lands on own dashboard", "Admin", "/subadmin/workflow", "/admin/leaddashboard", ""},
		{"no session on protected path", "", "/admin/workflow", "", "https://base.example.com/"},
		{"public path without session", "", "/pricing", "/pricing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := newTestNavigator(t, tt.role)
			nav.Replace(tt.target)
			assert.Equal(t, tt.path, nav.Path())
			assert.Equal(t, tt.external, nav.External())
		})
	}
}

func TestNavigatorReloadRunsHook(t *testing.T) {
	nav := newTestNavigator(t, "Admin")
	calls := 0
	nav.bind(context.Background(), func() { calls++ })

	nav.Reload()
	nav.Reload()
	assert.Equal(t, 2, nav.Reloads())
	assert.Equal(t, 2, calls)
}

func TestConsolePrompter(t *testing.T) {
	t.Run("acknowledged by a line", func(t *testing.T) {
		var out strings.Builder
		p := &ConsolePrompter{In: strings.NewReader("\n"), Out: &out}
		require.NoError(t, p.ConfirmDisplaced(context.Background()))
		assert.Contains(t, out.String(), "Session Terminated")
	})

	t.Run("closed input", func(t *testing.T) {
		p := &ConsolePrompter{In: strings.NewReader("")}
		assert.ErrorIs(t, p.ConfirmDisplaced(context.Background()), io.EOF)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		r, w := io.Pipe()
		t.Cleanup(func() { _ = w.Close() })
		p := &ConsolePrompter{In: r}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, p.ConfirmDisplaced(ctx), context.Canceled)
	})
}

func TestAutoPrompter(t *testing.T) {
	assert.NoError(t, AutoPrompter{}.ConfirmDisplaced(context.Background()))
}
