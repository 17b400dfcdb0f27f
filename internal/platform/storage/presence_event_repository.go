package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"nrich-session-guard/internal/platform/errors"
)

// PresenceEventRepository persists the presence audit trail.
type PresenceEventRepository struct {
	db *gorm.DB
}

func NewPresenceEventRepository(db *gorm.DB) *PresenceEventRepository {
	return &PresenceEventRepository{db: db}
}

// Append stores one event, stamping CreatedAt when unset.
func (r *PresenceEventRepository) Append(ctx context.Context, event *PresenceEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "presence_event.append", "failed to save presence event", err)
	}
	return nil
}

// ListByUser returns the newest events for uid first.
func (r *PresenceEventRepository) ListByUser(ctx context.Context, uid string, limit int) ([]PresenceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []PresenceEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", uid).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "presence_event.list", "failed to list presence events", err)
	}
	return events, nil
}
