package migrations

import (
	"gorm.io/gorm"
)

// Migration001Initial creates the key-value and presence audit tables.
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create kv_entries and presence_events"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace VARCHAR(64) NOT NULL,
			"key" VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			expires_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_kv_ns_key ON kv_entries(namespace, "key")`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS presence_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id VARCHAR(255) NOT NULL,
			path VARCHAR(255) NOT NULL,
			value JSON NOT NULL,
			conn_id VARCHAR(64),
			source VARCHAR(32),
			created_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_presence_events_user_id ON presence_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_presence_events_created_at ON presence_events(created_at)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
