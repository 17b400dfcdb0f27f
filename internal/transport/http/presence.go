package httptransport

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"nrich-session-guard/internal/domain/presence"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/observability"
	"nrich-session-guard/internal/platform/storage"
)

// ServerTokenMiddleware admits requests bearing the operator token. An
// empty token closes the operator API entirely.
func ServerTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PresenceHandler is the operator view of the presence tree.
type PresenceHandler struct {
	svc    *presence.Service
	events *storage.PresenceEventRepository
	schema string
	logger logging.Leveled
}

// NewPresenceHandler builds the handler. events may be nil when storage is off.
func NewPresenceHandler(svc *presence.Service, events *storage.PresenceEventRepository, logger logging.Leveled) *PresenceHandler {
	return &PresenceHandler{svc: svc, events: events, logger: logging.OrNop(logger)}
}

// WithSchema sets the storage schema version reported by the status endpoint.
func (h *PresenceHandler) WithSchema(version string) *PresenceHandler {
	h.schema = version
	return h
}

// RegisterRoutes mounts the operator routes on the secured group and the
// status endpoint on the open API group.
func (h *PresenceHandler) RegisterRoutes(router *Router) {
	router.API.GET("/status", h.Status)
	if router.Secured == nil {
		h.logger.Warn("no operator auth configured, presence admin API disabled")
		return
	}
	router.Secured.GET("/presence/:uid", h.Get)
	router.Secured.POST("/presence/:uid/reload", h.Reload)
	router.Secured.GET("/presence/:uid/events", h.Events)
}

func (h *PresenceHandler) Get(c *gin.Context) {
	if !presence.ValidPath(presence.DevicePath(c.Param("uid"))) {
		RespondError(c, http.StatusBadRequest, presence.ErrInvalidPath.Error(), nil)
		return
	}
	rec, err := h.svc.Record(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.logger.Error("read presence for %s: %v", c.Param("uid"), err)
		RespondError(c, http.StatusInternalServerError, "presence read failed", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, rec, "")
}

// Reload writes the device reload sentinel for uid.
func (h *PresenceHandler) Reload(c *gin.Context) {
	uid := c.Param("uid")
	if err := h.svc.RequestReload(c.Request.Context(), uid); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, presence.ErrInvalidPath) {
			status = http.StatusBadRequest
		}
		h.logger.Error("reload %s: %v", uid, err)
		RespondError(c, status, err.Error(), nil)
		return
	}
	h.logger.Info("forced reload requested for %s", uid)
	RespondSuccess(c, http.StatusAccepted, gin.H{"uid": uid}, "reload requested")
}

func (h *PresenceHandler) Events(c *gin.Context) {
	if h.events == nil {
		RespondError(c, http.StatusNotFound, "presence audit disabled", nil)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid limit", nil)
		return
	}
	events, err := h.events.ListByUser(c.Request.Context(), c.Param("uid"), limit)
	if err != nil {
		h.logger.Error("list presence events: %v", err)
		RespondError(c, http.StatusInternalServerError, "presence audit read failed", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, events, "")
}

// Status reports live sessions, the in-process metric counters and, when
// storage is on, the schema version.
func (h *PresenceHandler) Status(c *gin.Context) {
	body := gin.H{
		"sessions": h.svc.Sessions(),
		"metrics":  observability.Snapshot(),
	}
	if h.schema != "" {
		body["schema"] = h.schema
	}
	RespondSuccess(c, http.StatusOK, body, "")
}
