// Package presence implements the realtime presence channel: the server-side
// tree with per-connection sessions, disconnect hooks and an owner-only ACL,
// the client Channel contract, and the Session Guard that enforces one
// active device per user.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/observability"
)

var (
	ErrUnauthenticated = errors.New("presence: unauthenticated")
	ErrForbidden       = errors.New("presence: forbidden")
	ErrInvalidPath     = errors.New("presence: invalid path")
	ErrInvalidValue    = errors.New("presence: invalid value")
	ErrClosed          = errors.New("presence: session closed")
)

// Event sources recorded in the audit log.
const (
	SourceClient     = "client"
	SourceDisconnect = "disconnect"
	SourceAdmin      = "admin"
)

// Update is one value pushed to a subscriber. Value nil means absent.
type Update struct {
	SubID string
	Path  string
	Value []byte
}

// Record is the operator view of one user's presence.
type Record struct {
	UserID string `json:"uid"`
	Status bool   `json:"status"`
	Device string `json:"device"`
}

// Service owns the tree and every live presence session.
type Service struct {
	tree     Tree
	verifier *auth.AuthToken
	events   *eventbus.AsyncEventBus
	logger   logging.Leveled

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService builds a service. events may be nil.
func NewService(tree Tree, verifier *auth.AuthToken, events *eventbus.AsyncEventBus, logger logging.Leveled) *Service {
	return &Service{
		tree:     tree,
		verifier: verifier,
		events:   events,
		logger:   logging.OrNop(logger),
		sessions: make(map[string]*Session),
	}
}

// Authenticate verifies a session token.
func (s *Service) Authenticate(token string) (*auth.Identity, error) {
	id, err := s.verifier.VerifyToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return id, nil
}

// Open starts a session for an authenticated connection. push is invoked on
// the session's own goroutine, in order.
func (s *Service) Open(connID string, id *auth.Identity, push func(Update)) *Session {
	sess := &Session{
		svc:   s,
		id:    connID,
		uid:   id.UID,
		subs:  make(map[string]func()),
		out:   make(chan Update, outboundBuffer),
		done:  make(chan struct{}),
		drain: make(chan struct{}),
	}
	go sess.pump(push)

	s.mu.Lock()
	s.sessions[connID] = sess
	s.mu.Unlock()
	s.logger.Info("presence session opened conn=%s uid=%s", connID, id.UID)
	return sess
}

// Sessions reports the number of open sessions.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Record reads status and device for uid.
func (s *Service) Record(ctx context.Context, uid string) (Record, error) {
	rec := Record{UserID: uid}
	if raw, err := s.tree.Get(ctx, StatusPath(uid)); err != nil {
		return rec, err
	} else if raw != nil {
		_ = sonic.Unmarshal(raw, &rec.Status)
	}
	if raw, err := s.tree.Get(ctx, DevicePath(uid)); err != nil {
		return rec, err
	} else if raw != nil {
		_ = sonic.Unmarshal(raw, &rec.Device)
	}
	return rec, nil
}

// RequestReload writes the reload sentinel to uid's device path.
func (s *Service) RequestReload(ctx context.Context, uid string) error {
	if uid == "" || !ValidPath(DevicePath(uid)) {
		return ErrInvalidPath
	}
	raw, _ := sonic.Marshal(DeviceReloadSentinel)
	return s.write(ctx, DevicePath(uid), raw, "", SourceAdmin)
}

// Close ends every session, firing their disconnect hooks.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close(ctx)
	}
}

func (s *Service) forget(connID string) {
	s.mu.Lock()
	delete(s.sessions, connID)
	s.mu.Unlock()
}

func (s *Service) write(ctx context.Context, path string, value []byte, connID, source string) error {
	spanCtx, end := observability.StartSpan(ctx, "presence", "write")
	err := s.tree.Set(spanCtx, path, value)
	end(err)
	if err != nil {
		return err
	}

	observability.RecordMetric(spanCtx, "presence.write", 1, map[string]string{"source": source})
	if s.events != nil {
		uid, _ := OwnerOf(path)
		s.events.PublishAsync(eventbus.EventPresenceWritten, eventbus.PresenceEventData{
			UserID: uid,
			Path:   path,
			Value:  value,
			ConnID: connID,
			Source: source,
			At:     time.Now(),
		})
		if source == SourceAdmin {
			s.events.PublishAsync(eventbus.EventPresenceReload, eventbus.PresenceEventData{
				UserID: uid, Path: path, Source: source, At: time.Now(),
			})
		}
	}
	return nil
}

func validateValue(path string, value []byte) error {
	if len(value) == 0 || !sonic.Valid(value) {
		return ErrInvalidValue
	}
	switch {
	case len(path) > 7 && path[len(path)-7:] == "/status":
		var b bool
		if sonic.Unmarshal(value, &b) != nil {
			return fmt.Errorf("%w: status must be a boolean", ErrInvalidValue)
		}
	case len(path) > 7 && path[len(path)-7:] == "/device":
		var str string
		if sonic.Unmarshal(value, &str) != nil {
			return fmt.Errorf("%w: device must be a string", ErrInvalidValue)
		}
	}
	return nil
}
