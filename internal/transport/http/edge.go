package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/login"
	"nrich-session-guard/internal/domain/routeguard"
	"nrich-session-guard/internal/domain/session"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/transport/apiclient"
)

// Response headers set by the edge.
const (
	HeaderRequiredRole = "X-Required-Role"
	HeaderRouteNotice  = "X-Route-Notice"
)

const tokenSourceKey = "edge.tokens"

// EdgeOptions wires the dashboard-facing handlers.
type EdgeOptions struct {
	BaseURL      string
	APIBaseURL   string
	CryptoSecret string
	Timeout      time.Duration
	Retries      int
	CookieTTL    time.Duration
	SecureCookie bool
	PreserveKeys []string
	StaticDir    string
	Bus          eventbus.Bus
	Logger       logging.Leveled
}

// Edge serves login, logout, the home redirect and the route guard for page
// requests. The browser cookie jar carries only the tokens; the role and
// profile of a request are read from the token itself.
type Edge struct {
	opts   EdgeOptions
	api    *apiclient.Client
	logger logging.Leveled
}

func NewEdge(opts EdgeOptions) *Edge {
	e := &Edge{opts: opts, logger: logging.OrNop(opts.Logger)}
	e.api = apiclient.New(apiclient.Options{
		BaseURL: opts.APIBaseURL,
		Timeout: opts.Timeout,
		Retries: opts.Retries,
		Tokens:  requestTokens{},
		Logger:  e.logger,
	})
	return e
}

// requestTokens reads the bearer token the edge stashed in the request context.
type requestTokens struct{}

type tokenCtxKey struct{}

func (requestTokens) LocalToken(ctx context.Context) string {
	s, _ := ctx.Value(tokenCtxKey{}).(string)
	return s
}

// tokens builds the per-request token store and exposes the cookie token to
// the API client. The local half lives for one request and is seeded from
// the token cookie, so userData never travels as a cookie.
func (e *Edge) tokens(c *gin.Context) *session.TokenStore {
	if v, ok := c.Get(tokenSourceKey); ok {
		return v.(*session.TokenStore)
	}
	ctx := c.Request.Context()
	jar := NewCookieStore(c, e.opts.SecureCookie)
	local := kvstore.NewMemory(kvstore.Config{})
	tok := kvstore.GetString(ctx, jar, session.KeyToken)
	if tok != "" {
		e.seedProfile(ctx, local, tok)
		c.Request = c.Request.WithContext(context.WithValue(ctx, tokenCtxKey{}, tok))
	}
	ts := session.NewTokenStore(local, jar, e.opts.CookieTTL)
	c.Set(tokenSourceKey, ts)
	return ts
}

// seedProfile fills role and userData from the unverified token. A userRole
// cookie is ignored. This gates page rendering only; the backend authorizes
// every API call on its own.
func (e *Edge) seedProfile(ctx context.Context, local kvstore.Store, tok string) {
	id, err := auth.DecodeUnverified(tok)
	if err != nil {
		e.logger.Debug("undecodable token cookie: %v", err)
		return
	}
	_ = local.Set(ctx, session.KeyToken, tok, 0)
	if id.Role != "" {
		_ = local.Set(ctx, session.KeyUserRole, string(id.Role), 0)
	}
	if data, err := sonic.MarshalString(id.Payload); err == nil {
		_ = local.Set(ctx, session.KeyUserData, data, 0)
	}
}

// RegisterRoutes mounts the page routes, the guard and the static dashboard.
func (e *Edge) RegisterRoutes(router *Router) {
	engine := router.Engine
	engine.Use(e.GuardMiddleware())
	if e.opts.StaticDir != "" {
		serve := static.Serve("/", static.LocalFile(e.opts.StaticDir, true))
		// "/" is the home redirect, never the dashboard index.
		engine.Use(func(c *gin.Context) {
			if c.Request.URL.Path == "/" {
				c.Next()
				return
			}
			serve(c)
		})
	}

	engine.GET("/", e.Home)
	engine.GET("/login", e.Login)
	engine.POST("/logout", e.Logout)
}

// GuardMiddleware applies the role authorization guard to page requests.
// API and websocket paths are not pages and pass through.
func (e *Edge) GuardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !routeguard.IsProtected(path) {
			c.Next()
			return
		}

		required, _ := auth.RequiredRoleForPath(path)
		c.Header(HeaderRequiredRole, string(required))

		g := routeguard.NewGuard(e.tokens(c), e.opts.BaseURL, e.logger)
		d := g.Navigate(c.Request.Context(), path)
		if d.Allowed() {
			c.Next()
			return
		}
		if d.Notice != nil {
			c.Header(HeaderRouteNotice, d.Notice.Message)
		}
		c.Redirect(http.StatusFound, d.Redirect)
		c.Abort()
	}
}

// Home runs the login flow when an id is present, otherwise redirects to the
// routeData or role target.
func (e *Edge) Home(c *gin.Context) {
	if c.Query("id") != "" {
		e.Login(c)
		return
	}
	target := login.HomeTarget(c.Request.Context(), e.tokens(c), c.Query("routeData"))
	c.Redirect(http.StatusFound, target)
}

// Login exchanges the encrypted id and redirects, or answers with the alert.
func (e *Edge) Login(c *gin.Context) {
	ts := e.tokens(c)
	h := login.NewHandler(login.Options{
		Secret:    e.opts.CryptoSecret,
		Exchanger: e.api,
		Tokens:    ts,
		Bus:       e.opts.Bus,
		Logger:    e.logger,
	})

	res := h.Handle(c.Request.Context(), login.ParamsFromQuery(c.Request.URL.Query()))
	switch res.Outcome {
	case login.OutcomeRedirect:
		c.Redirect(http.StatusFound, res.Redirect)
	case login.OutcomeSkipped:
		c.Redirect(http.StatusFound, login.HomeTarget(c.Request.Context(), ts, c.Query("routeData")))
	case login.OutcomeAccessDenied:
		RespondError(c, http.StatusForbidden, res.Alert, res.Notice)
	default:
		RespondError(c, http.StatusBadRequest, res.Alert, nil)
	}
}

// Logout clears the cookies and redirects to the session's own domain or the
// base URL. The target never comes from the request.
func (e *Edge) Logout(c *gin.Context) {
	ts := e.tokens(c)
	target := session.NewLogout(ts, e.opts.BaseURL, e.opts.PreserveKeys, e.logger).
		Run(c.Request.Context(), "")
	if e.opts.Bus != nil {
		e.opts.Bus.Publish(eventbus.EventUserLoggedOut, eventbus.AuthEventData{Reason: eventbus.ReasonLogout})
	}
	c.Redirect(http.StatusFound, target)
}

// WarnDefaultSecret logs once when the placeholder secret is configured.
func (e *Edge) WarnDefaultSecret() bool {
	return login.CheckSecret(e.opts.CryptoSecret, e.logger)
}
