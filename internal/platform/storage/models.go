package storage

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry backs the sqlite key-value store. Namespace separates the local store
// from the cookie jar when both live in one database.
type KVEntry struct {
	ID        uint       `gorm:"primaryKey"`
	Namespace string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_kv_ns_key"`
	Key       string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_kv_ns_key"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }

// PresenceEvent is one accepted write on the presence tree.
type PresenceEvent struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    string         `gorm:"type:varchar(255);index;not null"`
	Path      string         `gorm:"type:varchar(255);not null"`
	Value     datatypes.JSON `gorm:"not null"`
	ConnID    string         `gorm:"type:varchar(64)"`
	Source    string         `gorm:"type:varchar(32)"`
	CreatedAt time.Time      `gorm:"index"`
}

func (PresenceEvent) TableName() string { return "presence_events" }
