package eventbus

import "time"

// Client-side topics, published on the per-shell synchronous bus.
const (
	EventUserLoggedIn  = "user:logged-in"
	EventUserLoggedOut = "user:logged-out"
)

// Server-side topics, published on the presence service's async bus.
const (
	EventPresenceWritten      = "presence:written"
	EventPresenceDisconnected = "presence:disconnected"
	EventPresenceReload       = "presence:reload"
)

// AuthEventData accompanies the user:* topics. Handlers must take this exact
// type because the bus matches arguments by reflection.
type AuthEventData struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Reasons carried by EventUserLoggedOut.
const (
	ReasonDisplaced = "displaced"
	ReasonLogout    = "logout"
)

// PresenceEventData accompanies the presence:* topics.
type PresenceEventData struct {
	UserID string    `json:"user_id"`
	Path   string    `json:"path"`
	Value  []byte    `json:"value,omitempty"`
	ConnID string    `json:"conn_id,omitempty"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}
