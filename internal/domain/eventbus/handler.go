package eventbus

import (
	"nrich-session-guard/internal/platform/logging"
)

// SetupEventHandlers logs every presence topic. It returns the subscriptions
// so callers can detach the handlers on shutdown.
func SetupEventHandlers(bus Bus, log logging.Leveled) []*Subscription {
	log = logging.OrNop(log)

	var subs []*Subscription
	add := func(topic string, fn func(PresenceEventData)) {
		sub, err := Listen(bus, topic, fn)
		if err != nil {
			log.Warn("subscribe %s failed: %v", topic, err)
			return
		}
		subs = append(subs, sub)
	}

	add(EventPresenceWritten, func(data PresenceEventData) {
		log.Debug("presence write uid=%s path=%s conn=%s source=%s", data.UserID, data.Path, data.ConnID, data.Source)
	})
	add(EventPresenceDisconnected, func(data PresenceEventData) {
		log.Info("presence disconnect uid=%s conn=%s", data.UserID, data.ConnID)
	})
	add(EventPresenceReload, func(data PresenceEventData) {
		log.Info("presence reload requested uid=%s source=%s", data.UserID, data.Source)
	})
	return subs
}
