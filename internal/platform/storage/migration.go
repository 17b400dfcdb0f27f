package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nrich-session-guard/internal/platform/errors"
)

// Migration is one forward-only schema step for the kv and presence tables.
type Migration interface {
	Version() string
	Description() string
	Up(tx *gorm.DB) error
}

// SchemaVersion marks a step as applied.
type SchemaVersion struct {
	Version     string    `gorm:"primaryKey;size:64"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (SchemaVersion) TableName() string { return "schema_versions" }

// Migrator applies steps in order. Versions sort lexically, so they carry a
// zero-padded prefix.
type Migrator struct {
	db    *gorm.DB
	steps []Migration
}

func NewMigrator(db *gorm.DB, steps ...Migration) *Migrator {
	return &Migrator{db: db, steps: steps}
}

// Apply runs every step not yet recorded, each in its own transaction, and
// returns the versions it applied.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migrate.schema_table", "create schema_versions", err)
	}

	var done []string
	if err := db.Model(&SchemaVersion{}).Pluck("version", &done).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migrate.applied", "read applied versions", err)
	}
	applied := make(map[string]bool, len(done))
	for _, v := range done {
		applied[v] = true
	}

	var ran []string
	for _, step := range m.steps {
		if applied[step.Version()] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaVersion{
				Version:     step.Version(),
				Description: step.Description(),
				AppliedAt:   time.Now(),
			}).Error
		})
		if err != nil {
			return ran, errors.Wrap(errors.KindStorage, "migrate.up", fmt.Sprintf("apply %s", step.Version()), err)
		}
		ran = append(ran, step.Version())
	}
	return ran, nil
}

// Current returns the newest applied version, or "" on a fresh database.
func (m *Migrator) Current(ctx context.Context) (string, error) {
	db := m.db.WithContext(ctx)
	if !db.Migrator().HasTable(&SchemaVersion{}) {
		return "", nil
	}
	var rows []SchemaVersion
	err := db.Order("version DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return "", errors.Wrap(errors.KindStorage, "migrate.current", "read schema version", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Version, nil
}
