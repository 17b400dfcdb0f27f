package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nrich-session-guard/internal/platform/errors"
)

func TestOpenRunsMigrationsOnce(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "guard.db")

	first, err := Open(dsn)
	require.NoError(t, err)
	sqlDB, _ := first.DB()
	require.NoError(t, sqlDB.Close())

	second, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s, err := second.DB(); err == nil {
			_ = s.Close()
		}
	})

	version, err := CurrentSchema(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "001_initial", version)

	var rows []SchemaVersion
	require.NoError(t, second.Find(&rows).Error)
	assert.Len(t, rows, 1)
}

type failingStep struct{}

func (failingStep) Version() string     { return "002_broken" }
func (failingStep) Description() string { return "always fails" }
func (failingStep) Up(tx *gorm.DB) error {
	return tx.Exec(`CREATE TABLE kv_entries (id INTEGER)`).Error
}

func TestMigratorApply(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fresh.db")), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if s, err := db.DB(); err == nil {
			_ = s.Close()
		}
	})

	version, err := CurrentSchema(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, version, "fresh database has no schema")

	ran, err := NewMigrator(db, Steps()...).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial"}, ran)

	ran, err = NewMigrator(db, Steps()...).Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran)

	// a failing step is rolled back and left unrecorded
	_, err = NewMigrator(db, append(Steps(), failingStep{})...).Apply(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStorage))
	version, err = CurrentSchema(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "001_initial", version)
}

func TestPresenceEventRepository(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if s, err := db.DB(); err == nil {
			_ = s.Close()
		}
	})

	repo := NewPresenceEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &PresenceEvent{UserID: "u1", Path: "/users/u1/status", Value: datatypes.JSON(`true`), Source: "client"}))
	require.NoError(t, repo.Append(ctx, &PresenceEvent{UserID: "u1", Path: "/users/u1/device", Value: datatypes.JSON(`"d1"`), Source: "client"}))
	require.NoError(t, repo.Append(ctx, &PresenceEvent{UserID: "u2", Path: "/users/u2/status", Value: datatypes.JSON(`true`)}))

	events, err := repo.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "/users/u1/device", events[0].Path)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestProcessWideDatabase(t *testing.T) {
	require.NoError(t, CloseDatabase())
	require.Nil(t, GetDB())

	require.NoError(t, InitDatabase(filepath.Join(t.TempDir(), "global.db")))
	require.NotNil(t, GetDB())
	require.NoError(t, InitDatabase("ignored-on-second-call.db"))
	require.NoError(t, CloseDatabase())
	assert.Nil(t, GetDB())
}
