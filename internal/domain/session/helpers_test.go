package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/kvstore"
)

type fakeNavigator struct {
	mu       sync.Mutex
	replaced []string
	reloads  int
}

func (f *fakeNavigator) Replace(target string) {
	f.mu.Lock()
	f.replaced = append(f.replaced, target)
	f.mu.Unlock()
}

func (f *fakeNavigator) Reload() {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
}

func (f *fakeNavigator) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replaced...)
}

type ackPrompter struct {
	mu    sync.Mutex
	calls int
	ack   chan struct{}
}

func newAckPrompter() *ackPrompter { return &ackPrompter{ack: make(chan struct{}, 8)} }

func (p *ackPrompter) ConfirmDisplaced(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	select {
	case <-p.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ackPrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestStores() (*kvstore.Tab, *kvstore.Tab) {
	return kvstore.NewObservable(kvstore.NewMemory(kvstore.Config{})),
		kvstore.NewObservable(kvstore.NewMemory(kvstore.Config{}))
}

func mustToken(t *testing.T, user map[string]any) string {
	t.Helper()
	tok, err := auth.NewAuthToken("test").WithTTL(time.Hour).GenerateToken(user)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}
