package session

import (
	"context"

	"nrich-session-guard/internal/platform/logging"
)

// Logout clears the session and resolves where the browser goes next.
type Logout struct {
	tokens   *TokenStore
	preserve []string
	baseURL  string
	logger   logging.Leveled
}

// NewLogout builds a Logout. An empty preserve list means DefaultPreserveKeys.
func NewLogout(tokens *TokenStore, baseURL string, preserve []string, logger logging.Leveled) *Logout {
	if len(preserve) == 0 {
		preserve = DefaultPreserveKeys
	}
	return &Logout{tokens: tokens, preserve: preserve, baseURL: baseURL, logger: logging.OrNop(logger)}
}

// Run clears both stores except the preserved keys and returns the redirect
// target: redirect when given, else userData.onDomain, else
// userData.user.onDomain, else the base URL.
func (l *Logout) Run(ctx context.Context, redirect string) string {
	target := redirect
	if target == "" {
		target = l.resolveRedirect(ctx)
	}
	if target == "" {
		target = l.baseURL
	}

	if err := l.tokens.Clear(ctx, l.preserve); err != nil {
		l.logger.Error("clear session failed: %v", err)
	}
	l.logger.Info("logged out, redirecting to %s", target)
	return target
}

func (l *Logout) resolveRedirect(ctx context.Context) string {
	data, err := l.tokens.UserData(ctx)
	if err != nil {
		l.logger.Warn("read userData failed: %v", err)
		return ""
	}
	if data == nil {
		return ""
	}
	// A present top-level onDomain wins even when empty.
	if v, ok := data["onDomain"]; ok && v != nil {
		s, _ := v.(string)
		return s
	}
	if user, ok := data["user"].(map[string]any); ok {
		if s, ok := user["onDomain"].(string); ok {
			return s
		}
	}
	return ""
}
