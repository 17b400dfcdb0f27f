package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/presence"
	"nrich-session-guard/internal/platform/logging"
)

const hookTimeout = 5 * time.Second

// NewPresenceHandlerBuilder serves the presence protocol for every
// authenticated connection.
func NewPresenceHandlerBuilder(svc *presence.Service, pingInterval time.Duration, logger logging.Leveled) HandlerBuilder {
	logger = logging.OrNop(logger)
	return func(conn *Connection, id *auth.Identity) (SessionHandler, error) {
		if id == nil || id.UID == "" {
			return nil, ErrUnauthorized
		}
		h := &presenceHandler{
			conn:         conn,
			uid:          id.UID,
			pingInterval: pingInterval,
			logger:       logger,
		}
		h.sess = svc.Open(conn.GetID(), id, h.push)
		return h, nil
	}
}

type presenceHandler struct {
	conn         *Connection
	sess         *presence.Session
	uid          string
	pingInterval time.Duration
	logger       logging.Leveled

	closeOnce sync.Once
}

func (h *presenceHandler) GetSessionID() string { return h.conn.GetID() }

// push runs on the presence pump. A failed write only drops the socket; the
// read loop then ends the session.
func (h *presenceHandler) push(u presence.Update) {
	f := Frame{Type: FrameValue, Sub: u.SubID, Path: u.Path, Value: u.Value}
	if err := h.conn.WriteFrame(f); err != nil {
		h.logger.Debug("push to %s failed: %v", h.conn.GetID(), err)
		_ = h.conn.Close()
	}
}

func (h *presenceHandler) Handle(ctx context.Context) {
	if err := h.conn.WriteFrame(Frame{Type: FrameHello, ConnID: h.conn.GetID(), UserID: h.uid}); err != nil {
		h.logger.Warn("hello to %s failed: %v", h.conn.GetID(), err)
		return
	}

	if h.pingInterval > 0 {
		h.conn.KeepAlive(2 * h.pingInterval)
		stop := make(chan struct{})
		defer close(stop)
		go h.pinger(ctx, stop)
	}

	for {
		f, err := h.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				h.reply(Frame{Type: FrameError, Code: CodeBadRequest, Message: err.Error()})
				continue
			}
			h.logger.Debug("read from %s ended: %v", h.conn.GetID(), err)
			return
		}
		if err := h.dispatch(ctx, f); err != nil {
			h.reply(Frame{Type: FrameError, ID: f.ID, Code: codeFor(err), Message: err.Error()})
			continue
		}
		h.reply(Frame{Type: FrameAck, ID: f.ID})
	}
}

func (h *presenceHandler) dispatch(ctx context.Context, f Frame) error {
	switch f.Type {
	case FrameSet:
		return h.sess.Set(ctx, f.Path, valueOf(f))
	case FrameSubscribe:
		if f.Sub == "" {
			return errBadRequest("subscribe without sub id")
		}
		return h.sess.Subscribe(ctx, f.Sub, f.Path)
	case FrameUnsubscribe:
		h.sess.Unsubscribe(f.Sub)
		return nil
	case FrameOnDisconnectSet:
		return h.sess.OnDisconnectSet(f.Path, valueOf(f))
	case FrameCancelOnDisconnect:
		return h.sess.CancelOnDisconnect(f.Path)
	default:
		return errBadRequest("unknown frame type " + f.Type)
	}
}

func (h *presenceHandler) reply(f Frame) {
	if err := h.conn.WriteFrame(f); err != nil {
		h.logger.Debug("reply to %s failed: %v", h.conn.GetID(), err)
	}
}

func (h *presenceHandler) pinger(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := h.conn.WritePing(time.Now().Add(h.pingInterval)); err != nil {
				h.logger.Debug("ping %s failed: %v", h.conn.GetID(), err)
				_ = h.conn.Close()
				return
			}
		}
	}
}

// Close drops the socket first so a blocked push cannot stall the
// disconnect hooks.
func (h *presenceHandler) Close() {
	h.closeOnce.Do(func() {
		_ = h.conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		h.sess.Close(ctx)
	})
}

// valueOf treats JSON null like an absent value.
func valueOf(f Frame) []byte {
	if len(f.Value) == 0 || string(f.Value) == "null" {
		return nil
	}
	return f.Value
}

type badRequestError string

func errBadRequest(msg string) error { return badRequestError(msg) }

func (e badRequestError) Error() string { return string(e) }
