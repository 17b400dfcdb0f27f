package login

import (
	"context"
	"strings"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/session"
)

// intentRoutes maps the routeData intent onto a path below the role segment.
var intentRoutes = map[string]string{
	"whatsapp":    "notification/whatsapp",
	"email":       "notification/emails/campaigndashboard",
	"workflow":    "workflow",
	"crm":         "leaddashboard",
	"googlesheet": "leadIntegration/googlesheet",
	"googleadd":   "leadIntegration/googleadd",
	"meta":        "leadIntegration/meta",
	"wordpress":   "leadIntegration/wordpress",
}

const defaultRoute = "leaddashboard"

// Target picks the post-login destination. Unknown or empty intents land on
// the role's lead dashboard.
func Target(role auth.Role, routeData string) string {
	suffix, ok := intentRoutes[strings.ToLower(strings.TrimSpace(routeData))]
	if !ok {
		suffix = defaultRoute
	}
	return "/" + role.Segment() + "/" + suffix
}

// HomeTarget is where "/" sends a visitor: the stored role when present,
// otherwise Admin.
func HomeTarget(ctx context.Context, tokens *session.TokenStore, routeData string) string {
	role := auth.RoleAdmin
	if stored := tokens.Role(ctx); stored != "" {
		role = auth.NormalizeRole(stored)
	}
	return Target(role, routeData)
}
