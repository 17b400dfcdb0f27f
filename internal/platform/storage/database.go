package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nrich-session-guard/internal/platform/errors"
	"nrich-session-guard/internal/platform/storage/migrations"
)

var (
	dbMu sync.Mutex
	db   *gorm.DB
)

// Open creates (if needed) and migrates the sqlite database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "empty dsn")
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.open", "create data directory", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", fmt.Sprintf("open %s", dsn), err)
	}

	if _, err := NewMigrator(conn, Steps()...).Apply(context.Background()); err != nil {
		return nil, err
	}
	return conn, nil
}

// Steps lists the schema steps for kv_entries and presence_events.
func Steps() []Migration {
	return []Migration{&migrations.Migration001Initial{}}
}

// CurrentSchema reports the newest applied schema version of db.
func CurrentSchema(ctx context.Context, db *gorm.DB) (string, error) {
	return NewMigrator(db).Current(ctx)
}

// InitDatabase opens the process-wide database once.
func InitDatabase(dsn string) error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		return nil
	}
	conn, err := Open(dsn)
	if err != nil {
		return err
	}
	db = conn
	return nil
}

// GetDB returns the process-wide database, or nil before InitDatabase.
func GetDB() *gorm.DB {
	dbMu.Lock()
	defer dbMu.Unlock()
	return db
}

// CloseDatabase releases the process-wide database.
func CloseDatabase() error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
