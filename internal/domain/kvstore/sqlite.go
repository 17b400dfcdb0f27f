package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	platformerrors "nrich-session-guard/internal/platform/errors"
	"nrich-session-guard/internal/platform/storage"
)

type sqliteStore struct {
	db        *gorm.DB
	namespace string
}

// NewSQLite builds a store over the kv_entries table, scoped to cfg.Namespace.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "default"
	}
	return &sqliteStore{db: db, namespace: ns}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	var entry storage.KVEntry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND `key` = ?", s.namespace, key).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, platformerrors.Wrap(platformerrors.KindStorage, "kvstore.sqlite.get", "query failed", err)
	}
	if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	now := time.Now()
	entry := &storage.KVEntry{
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ? AND `key` = ?", s.namespace, key).Delete(&storage.KVEntry{}).Error; err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "kvstore.sqlite.set", "write failed", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND `key` = ?", s.namespace, key).
		Delete(&storage.KVEntry{}).Error
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "kvstore.sqlite.delete", "delete failed", err)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	var entries []storage.KVEntry
	err := s.db.WithContext(ctx).
		Select("key", "expires_at").
		Where("namespace = ?", s.namespace).
		Find(&entries).Error
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "kvstore.sqlite.keys", "list failed", err)
	}
	now := time.Now()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ExpiresAt == nil || now.Before(*e.ExpiresAt) {
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}
