// Package device owns the per-profile device identifier.
package device

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/platform/logging"
)

// StorageKey is where the identifier lives in the local store.
const StorageKey = "device_id"

// Provider returns a stable device id, generating and persisting one on first use.
type Provider struct {
	store  kvstore.Store
	logger logging.Leveled

	mu      sync.Mutex
	newUUID func() (uuid.UUID, error)
	now     func() time.Time
}

// NewProvider binds a provider to the persistent local store. A nil store
// yields a provider that always returns "".
func NewProvider(store kvstore.Store, logger logging.Leveled) *Provider {
	return &Provider{
		store:   store,
		logger:  logging.OrNop(logger),
		newUUID: uuid.NewRandom,
		now:     time.Now,
	}
}

// DeviceID returns the stored identifier or creates one. It returns "" only
// when no store is attached.
func (p *Provider) DeviceID(ctx context.Context) string {
	if p == nil || p.store == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id := kvstore.GetString(ctx, p.store, StorageKey); id != "" {
		return id
	}
	return p.generateLocked(ctx)
}

// Regenerate replaces the stored identifier with a fresh one.
func (p *Provider) Regenerate(ctx context.Context) string {
	if p == nil || p.store == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateLocked(ctx)
}

func (p *Provider) generateLocked(ctx context.Context) string {
	id := p.generate()
	if err := p.store.Set(ctx, StorageKey, id, 0); err != nil {
		p.logger.Warn("persist device id failed: %v", err)
	}
	return id
}

func (p *Provider) generate() string {
	if u, err := p.newUUID(); err == nil {
		return u.String()
	}
	return fallbackID(p.now())
}

// fallbackID mirrors device_<unix ms>_<9 base36 chars>.
func fallbackID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("device_%s_%s", strconv.FormatInt(now.UnixMilli(), 10), suffix)
}
