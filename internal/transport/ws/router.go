package ws

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded, authenticated connection.
type HandlerBuilder func(conn *Connection, id *auth.Identity) (SessionHandler, error)

// BearerProtocol is offered by browser clients as the subprotocol pair
// "bearer, <token>", since they cannot set headers on a websocket.
const BearerProtocol = "bearer"

// Authenticator resolves the caller before the upgrade.
type Authenticator func(token string) (*auth.Identity, error)

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger logging.Leveled

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	authenticate     Authenticator
	builder          atomic.Value // HandlerBuilder
	base             atomic.Value // context.Context
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	Authenticate     Authenticator
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger logging.Leveled, opts RouterOptions) *Router {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	upgrader := &websocket.Upgrader{
		CheckOrigin:      opts.CheckOrigin,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{BearerProtocol},
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	r := &Router{
		hub:              hub,
		logger:           logging.OrNop(logger),
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		authenticate:     opts.Authenticate,
	}
	r.base.Store(context.Background())
	return r
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// SetBaseContext sets the parent of every session context. Sessions must not
// inherit the request context, which ends when the handler returns.
func (r *Router) SetBaseContext(ctx context.Context) {
	if ctx != nil {
		r.base.Store(ctx)
	}
}

// TokenFromRequest reads the session token from the Authorization header,
// else from the bearer subprotocol offer. The query string is never read, so
// tokens stay out of access logs.
func TokenFromRequest(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	offered := websocket.Subprotocols(req)
	for i := 0; i+1 < len(offered); i++ {
		if offered[i] == BearerProtocol {
			return offered[i+1]
		}
	}
	return ""
}

// Handle authenticates the request, upgrades it and launches a session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	var identity *auth.Identity
	if r.authenticate != nil {
		id, err := r.authenticate(TokenFromRequest(req))
		if err != nil {
			spanErr = err
			observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
				"component": "transport.websocket",
				"reason":    "unauthorized",
			})
			r.logger.Warn("rejected upgrade from %s: %v", req.RemoteAddr, err)
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		identity = id
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
			"component": "transport.websocket",
			"reason":    "upgrade",
		})
		r.logger.Error("handshake failed: %v", err)
		return
	}

	connID := uuid.NewString()
	wsConn := NewConnection(connID, conn)
	observability.RecordMetric(spanCtx, "websocket.upgrade.success", 1, map[string]string{
		"component": "transport.websocket",
	})

	handler, err := builder(wsConn, identity)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.connection.error", 1, map[string]string{
			"component": "transport.websocket",
			"reason":    "handler_creation_failed",
		})
		r.logger.Error("create session handler failed: %v", err)
		_ = wsConn.Close()
		return
	}

	uid := ""
	if identity != nil {
		uid = identity.UID
	}
	r.logger.Info("connected conn=%s uid=%s", connID, uid)

	session := NewSession(r.base.Load().(context.Context), handler, wsConn, r.logger)
	r.hub.Register(session)
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
	})

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.Warn("session %s ended abnormally: %v", session.ID(), runErr)
		}
		r.logger.Info("disconnected conn=%s uid=%s", connID, uid)
		observability.RecordMetric(context.Background(), "websocket.connection.closed", 1, map[string]string{
			"component": "transport.websocket",
		})
	})
}
