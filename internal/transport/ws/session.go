package ws

import (
	"context"
	"sync/atomic"
	"time"

	"nrich-session-guard/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

// SessionHandler drives one upgraded connection. Handle blocks until the
// peer goes away; Close must make a running Handle return.
type SessionHandler interface {
	Handle(ctx context.Context)
	Close()
	GetSessionID() string
}

// Session encapsulates the lifecycle of a single websocket connection.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  logging.Leveled

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
	done   chan struct{}
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger logging.Leveled) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.GetSessionID(),
		handler: handler,
		conn:    conn,
		logger:  logging.OrNop(logger),
		ctx:     sessionCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) ID() string {
	return s.id
}

// Run executes the session handler and invokes onDone once exiting.
func (s *Session) Run(onDone func(error)) {
	defer func() {
		s.Close(nil)
		cause := context.Cause(s.ctx)
		if cause == ErrSessionShutdown {
			cause = nil
		}
		close(s.done)
		if onDone != nil {
			onDone(cause)
		}
	}()

	s.handler.Handle(s.ctx)
}

// Wait blocks until Run has returned.
func (s *Session) Wait() <-chan struct{} {
	return s.done
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.cancel != nil {
		s.cancel(reason)
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()

	if s.handler != nil {
		done := make(chan struct{})
		go func() {
			s.handler.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.Warn("session %s handler close timed out: %v", s.id, context.Cause(shutdownCtx))
		}
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("session %s connection close failed: %v", s.id, err)
		}
	}
}
