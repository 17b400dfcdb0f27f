// Package routeguard decides, per navigation, whether a dashboard path may
// render for the cached role.
package routeguard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/session"
	"nrich-session-guard/internal/platform/logging"
)

// State of one navigation check.
type State int

const (
	Checking State = iota
	Authorized
	Unauthorized
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the resolved outcome for a path. Redirect is empty when the
// path may render. External marks a full navigation to an absolute URL.
type Decision struct {
	Path         string
	State        State
	Redirect     string
	External     bool
	RequiredRole auth.Role
	CurrentRole  string
	Notice       *Notice
}

// Notice is shown before a wrong-role redirect.
type Notice struct {
	Title   string
	Message string
}

// Allowed reports whether content for the path may render.
func (d Decision) Allowed() bool { return d.State == Authorized }

// LandingPath is the default dashboard for role.
func LandingPath(role string) string {
	return "/" + strings.ToLower(role) + "/leaddashboard"
}

// IsProtected reports whether path sits under a role-restricted prefix.
func IsProtected(path string) bool {
	_, ok := auth.RequiredRoleForPath(path)
	return ok
}

// Guard evaluates navigations against the token store. It keeps the last
// decision so a shell can withhold content while a check is pending.
type Guard struct {
	tokens  *session.TokenStore
	baseURL string
	logger  logging.Leveled

	mu      sync.Mutex
	current Decision
}

func NewGuard(tokens *session.TokenStore, baseURL string, logger logging.Leveled) *Guard {
	return &Guard{
		tokens:  tokens,
		baseURL: baseURL,
		logger:  logging.OrNop(logger),
		current: Decision{State: Checking},
	}
}

// Current returns the last decision, or Checking before the first Navigate.
func (g *Guard) Current() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Navigate marks path as Checking, evaluates it and stores the result before
// returning, so Checking never outlives the call.
func (g *Guard) Navigate(ctx context.Context, path string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.current = Decision{Path: path, State: Checking}
	d := g.Check(ctx, path)
	g.current = d
	return d
}

// Check evaluates path without touching the stored decision.
func (g *Guard) Check(ctx context.Context, path string) Decision {
	d := Decision{Path: path, State: Authorized}

	// The landing page performs its own redirect.
	if path == "/" {
		return d
	}

	required, protected := auth.RequiredRoleForPath(path)
	d.RequiredRole = required

	if protected && !g.tokens.HasToken(ctx) {
		g.logger.Info("no session for %s, sending to %s", path, g.baseURL)
		d.State = Unauthorized
		d.Redirect = g.baseURL
		d.External = true
		return d
	}

	current := g.tokens.Role(ctx)
	d.CurrentRole = current
	if current == "" || current == string(auth.RoleSuperAdmin) || !protected {
		return d
	}

	if mismatched(auth.Role(current), required) {
		g.logger.Warn("role %s may not open %s", current, path)
		d.State = Unauthorized
		d.Redirect = LandingPath(current)
		d.Notice = unauthorizedNotice(auth.Role(current), required)
	}
	return d
}

func mismatched(current, required auth.Role) bool {
	return (current == auth.RoleAdmin && required == auth.RoleSubAdmin) ||
		(current == auth.RoleSubAdmin && required == auth.RoleAdmin)
}

func unauthorizedNotice(current, required auth.Role) *Notice {
	return &Notice{
		Title: "Unauthorized Access",
		Message: fmt.Sprintf("You don't have permission to access this area. "+
			"Your current role is %s, but this page requires %s access. "+
			"Please contact your administrator if you believe this is an error.",
			current, required),
	}
}
