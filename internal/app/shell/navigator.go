package shell

import (
	"context"
	"strings"
	"sync"

	"nrich-session-guard/internal/domain/routeguard"
	"nrich-session-guard/internal/platform/logging"
)

// maxHops bounds guard redirects for a single navigation.
const maxHops = 4

// Navigator is the agent's address bar. In-app paths go through the role
// guard; absolute URLs leave the app.
type Navigator struct {
	routes *routeguard.Guard
	logger logging.Leveled

	mu       sync.Mutex
	ctx      context.Context
	path     string
	external string
	notices  []routeguard.Notice
	reloads  int
	onReload func()
}

// NewNavigator builds a navigator over routes.
func NewNavigator(routes *routeguard.Guard, logger logging.Leveled) *Navigator {
	return &Navigator{routes: routes, logger: logging.OrNop(logger), ctx: context.Background()}
}

func (n *Navigator) bind(ctx context.Context, onReload func()) {
	n.mu.Lock()
	n.ctx = ctx
	n.onReload = onReload
	n.mu.Unlock()
}

// Replace navigates to target without keeping history.
func (n *Navigator) Replace(target string) {
	if isAbsolute(target) {
		n.mu.Lock()
		n.external = target
		n.path = ""
		n.mu.Unlock()
		n.logger.Info("left app for %s", target)
		return
	}
	n.visit(target)
}

func (n *Navigator) visit(path string) {
	n.mu.Lock()
	ctx := n.ctx
	n.mu.Unlock()

	for hop := 0; hop < maxHops; hop++ {
		d := n.routes.Navigate(ctx, path)
		if d.Notice != nil {
			n.logger.Warn("%s: %s", d.Notice.Title, d.Notice.Message)
			n.mu.Lock()
			n.notices = append(n.notices, *d.Notice)
			n.mu.Unlock()
		}
		if d.Allowed() {
			n.mu.Lock()
			n.path = path
			n.external = ""
			n.mu.Unlock()
			n.logger.Debug("at %s", path)
			return
		}
		if d.External {
			n.Replace(d.Redirect)
			return
		}
		path = d.Redirect
	}
	n.logger.Error("redirect loop while navigating to %s", path)
}

// Reload re-runs the page in place.
func (n *Navigator) Reload() {
	n.mu.Lock()
	n.reloads++
	fn := n.onReload
	n.mu.Unlock()
	n.logger.Info("reloading")
	if fn != nil {
		fn()
	}
}

// Path returns the current in-app path, or "" after leaving the app.
func (n *Navigator) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// External returns the URL the app was left for, if any.
func (n *Navigator) External() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.external
}

// Reloads counts Reload calls.
func (n *Navigator) Reloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloads
}

// Notices returns the unauthorized notices shown so far.
func (n *Navigator) Notices() []routeguard.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]routeguard.Notice(nil), n.notices...)
}

func isAbsolute(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
