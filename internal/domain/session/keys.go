// Package session holds the client-side session state: the dual token store,
// the reactive token decoder, logout, the displacement notifier and the
// online tracker that feeds the presence guard.
package session

// Keys shared by the local store and the cookie jar.
const (
	KeyToken      = "token"
	KeyNrichToken = "nrich_token"
	KeyUserRole   = "userRole"
	KeyUserData   = "userData"
	KeyRefreshed  = "refreshed"
)

// DefaultPreserveKeys survive logout in both stores.
var DefaultPreserveKeys = []string{"la", "lo", "city"}

// Navigator performs page transitions for the client shell. Targets are
// either in-app paths or absolute URLs.
type Navigator interface {
	Replace(target string)
	Reload()
}
