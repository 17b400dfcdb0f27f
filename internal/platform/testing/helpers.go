package testing

import (
	"io"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"nrich-session-guard/internal/platform/config"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/storage"
)

// SetupTestConfig returns the default config with every file path moved under
// a per-test temp dir and listeners bound to loopback.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Token = "test-server-token"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Log.File = "test.log"
	cfg.Transport.WebSocket.IP = "127.0.0.1"
	cfg.Presence.JWTSecret = "test-presence-secret"
	cfg.Storage.DSN = filepath.Join(dir, "test.db")
	cfg.Login.CryptoSecret = "test-crypto-secret"
	return cfg
}

// SetupTestLogger builds a real logger whose console output is discarded.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

// SetupMiniRedis starts a miniredis server and returns redis options pointing at it.
func SetupMiniRedis(t *testing.T) (*miniredis.Miniredis, config.RedisConfig) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, config.RedisConfig{Addr: mr.Addr()}
}

// SetupTestDB opens a migrated sqlite database in a temp dir.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}
