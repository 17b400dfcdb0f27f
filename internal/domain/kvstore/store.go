// Package kvstore is the injected key-value abstraction behind the persistent
// local store and the cookie jar. Drivers: memory, sqlite (gorm) and redis.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned by every driver for a blank key.
var ErrEmptyKey = errors.New("kvstore: empty key")

// Store is a string key/value map. A zero ttl means the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver    string
	Namespace string
	Redis     *RedisConfig
	Memory    *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// ClearExcept deletes every key not listed in keep.
func ClearExcept(ctx context.Context, s Store, keep ...string) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	preserved := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		preserved[k] = struct{}{}
	}
	for _, key := range keys {
		if _, ok := preserved[key]; ok {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// GetString returns the value for key, or "" when missing or on error.
func GetString(ctx context.Context, s Store, key string) string {
	if s == nil {
		return ""
	}
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return v
}
