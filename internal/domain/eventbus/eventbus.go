// Package eventbus wraps asaskevich/EventBus. Each client shell owns one
// synchronous bus; the presence server owns one AsyncEventBus.
//
// Handlers run while the bus holds its lock. A handler must not publish,
// subscribe or unsubscribe on the bus that invoked it.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Bus is the subset of evbus.Bus the domain packages rely on.
type Bus interface {
	Publish(topic string, args ...interface{})
	Subscribe(topic string, fn interface{}) error
	Unsubscribe(topic string, handler interface{}) error
	HasCallback(topic string) bool
}

// New 创建新的同步事件总线
func New() evbus.Bus {
	return evbus.New()
}

// Subscription pairs a topic with the handler registered for it so callers can
// release it without keeping the function value around.
type Subscription struct {
	bus     Bus
	topic   string
	handler interface{}
}

// Listen subscribes fn and returns a handle whose Close unsubscribes it.
func Listen(bus Bus, topic string, fn interface{}) (*Subscription, error) {
	if err := bus.Subscribe(topic, fn); err != nil {
		return nil, err
	}
	return &Subscription{bus: bus, topic: topic, handler: fn}, nil
}

// Close unsubscribes. Safe on a nil receiver and safe to call twice.
func (s *Subscription) Close() {
	if s == nil || s.handler == nil {
		return
	}
	_ = s.bus.Unsubscribe(s.topic, s.handler)
	s.handler = nil
}
