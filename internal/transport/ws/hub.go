package ws

import (
	"sync"

	"nrich-session-guard/internal/platform/logging"
)

// Hub tracks the active websocket sessions for a transport instance.
type Hub struct {
	logger   logging.Leveled
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger logging.Leveled) *Hub {
	return &Hub{
		logger: logging.OrNop(logger),
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll terminates all active sessions and waits for their shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	var wg sync.WaitGroup
	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				session.Close(reason)
			}()
		}
		h.sessions.Delete(key)
		return true
	})
	wg.Wait()
}

// Count exposes the number of active websocket sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}
