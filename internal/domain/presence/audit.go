package presence

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/storage"
)

// Auditor appends accepted writes to the presence_events table.
type Auditor struct {
	repo   *storage.PresenceEventRepository
	logger logging.Leveled
	sub    *eventbus.Subscription
}

// NewAuditor subscribes to presence writes on bus. Handlers run on the bus
// worker pool, so slow inserts never delay a write.
func NewAuditor(bus eventbus.Bus, repo *storage.PresenceEventRepository, logger logging.Leveled) (*Auditor, error) {
	a := &Auditor{repo: repo, logger: logging.OrNop(logger)}
	sub, err := eventbus.Listen(bus, eventbus.EventPresenceWritten, a.record)
	if err != nil {
		return nil, err
	}
	a.sub = sub
	return a, nil
}

func (a *Auditor) record(data eventbus.PresenceEventData) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &storage.PresenceEvent{
		UserID:    data.UserID,
		Path:      data.Path,
		Value:     datatypes.JSON(data.Value),
		ConnID:    data.ConnID,
		Source:    data.Source,
		CreatedAt: data.At,
	}
	if err := a.repo.Append(ctx, event); err != nil {
		a.logger.Warn("audit presence write failed: %v", err)
	}
}

// Close detaches the auditor from the bus.
func (a *Auditor) Close() {
	a.sub.Close()
}
