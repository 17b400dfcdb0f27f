// Package login turns an encrypted identifier from the inbound URL into a
// stored session and a redirect.
package login

import (
	"context"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/session"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/transport/apiclient"
)

// DefaultSecret is the placeholder shared secret.
const DefaultSecret = "your-secret-key-here"

// User-facing alerts.
const (
	AlertAccessDenied = "You do not have access to the system."
	AlertLoginFailed  = "Login failed. Please try again."
	AlertInvalidID    = "Invalid encrypted ID. Please check your URL."
	AlertUnexpected   = "An error occurred during login. Please try again."
)

const accessDeniedMsg = "Access Denied"

type Outcome int

const (
	// OutcomeSkipped means no identifier was present; the landing page decides.
	OutcomeSkipped Outcome = iota
	OutcomeRedirect
	OutcomeAccessDenied
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeAccessDenied:
		return "access_denied"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notice is the dismissible access-denied dialog.
type Notice struct {
	Title   string
	Message string
}

type Result struct {
	Outcome  Outcome
	Redirect string
	Role     auth.Role
	Alert    string
	Notice   *Notice
}

// Params are the login query parameters.
type Params struct {
	ID        string
	RouteData string
}

func ParamsFromQuery(q url.Values) Params {
	return Params{ID: q.Get("id"), RouteData: q.Get("routeData")}
}

// Exchanger trades a decrypted identifier for a session.
type Exchanger interface {
	ExchangeLogin(ctx context.Context, id string) apiclient.Response
}

type Options struct {
	Secret    string
	Exchanger Exchanger
	Tokens    *session.TokenStore
	Bus       eventbus.Bus
	Logger    logging.Leveled
}

type Handler struct {
	secret    string
	exchanger Exchanger
	tokens    *session.TokenStore
	bus       eventbus.Bus
	logger    logging.Leveled
}

// CheckSecret logs a warning and reports true when secret is empty or the
// placeholder. Composition roots call it once at startup.
func CheckSecret(secret string, logger logging.Leveled) bool {
	if secret != "" && secret != DefaultSecret {
		return false
	}
	logging.OrNop(logger).Warn("using the default crypto secret; set NRICH_CRYPTO_KEY_SECRET")
	return true
}

// NewHandler builds a Handler. An empty secret means DefaultSecret.
func NewHandler(opts Options) *Handler {
	secret := opts.Secret
	if secret == "" {
		secret = DefaultSecret
	}
	return &Handler{
		secret:    secret,
		exchanger: opts.Exchanger,
		tokens:    opts.Tokens,
		bus:       opts.Bus,
		logger:    logging.OrNop(opts.Logger),
	}
}

// Handle runs the login flow once for p.
func (h *Handler) Handle(ctx context.Context, p Params) Result {
	if p.ID == "" {
		h.logger.Debug("no id parameter, deferring to the landing page")
		return Result{Outcome: OutcomeSkipped}
	}

	// Query decoding turns '+' into ' '; put them back before unescaping.
	encrypted, err := url.PathUnescape(strings.ReplaceAll(p.ID, " ", "+"))
	if err != nil {
		h.logger.Error("unescape id: %v", err)
		return failed(AlertUnexpected)
	}

	id, err := auth.DecryptPassphrase(encrypted, h.secret)
	if err != nil || id == "" {
		h.logger.Error("decrypt id failed: %v", err)
		return failed(AlertInvalidID)
	}

	resp := h.exchanger.ExchangeLogin(ctx, id)

	if resp.Field("status") == false && resp.Msg() == accessDeniedMsg {
		h.logger.Warn("access denied for the supplied id")
		return Result{
			Outcome: OutcomeAccessDenied,
			Alert:   AlertAccessDenied,
			Notice:  &Notice{Title: "Access Denied", Message: AlertAccessDenied},
		}
	}

	token := resp.String("token")
	if !resp.Status || !resp.Bool("status") || token == "" {
		h.logger.Error("login exchange rejected: code=%d msg=%q", resp.Code, resp.Msg())
		return failed(AlertLoginFailed)
	}

	user, _ := resp.Field("user").(map[string]any)
	rawRole := auth.StringAt(user, "role")
	if rawRole == "" {
		rawRole = string(auth.RoleAdmin)
	}
	role := auth.NormalizeRole(rawRole)

	userData := ""
	if user != nil {
		b, err := sonic.Marshal(user)
		if err != nil {
			h.logger.Error("encode user profile: %v", err)
			return failed(AlertUnexpected)
		}
		userData = string(b)
	}

	err = h.tokens.Save(ctx, session.Credentials{
		Token:      token,
		NrichToken: resp.String("nrich_token"),
		Role:       role,
		UserData:   userData,
	})
	if err != nil {
		h.logger.Error("store session: %v", err)
		return failed(AlertUnexpected)
	}

	if h.bus != nil {
		h.bus.Publish(eventbus.EventUserLoggedIn, eventbus.AuthEventData{
			UserID: auth.ResolveUserID(user),
			Role:   string(role),
		})
	}

	target := Target(role, p.RouteData)
	h.logger.Info("login ok role=%s intent=%q -> %s", role, p.RouteData, target)
	return Result{Outcome: OutcomeRedirect, Redirect: target, Role: role}
}

func failed(alert string) Result {
	return Result{Outcome: OutcomeFailed, Alert: alert}
}
