package ws

import (
	"encoding/json"
	"errors"

	"nrich-session-guard/internal/domain/presence"
)

// Frame types. Requests carry an ID and are answered by an ack or error
// frame with the same ID.
const (
	FrameHello              = "hello"
	FrameSet                = "set"
	FrameSubscribe          = "subscribe"
	FrameUnsubscribe        = "unsubscribe"
	FrameOnDisconnectSet    = "on_disconnect_set"
	FrameCancelOnDisconnect = "cancel_on_disconnect"
	FrameValue              = "value"
	FrameAck                = "ack"
	FrameError              = "error"
)

// Error codes carried by error frames.
const (
	CodeForbidden     = "forbidden"
	CodeInvalidPath   = "invalid_path"
	CodeInvalidValue  = "invalid_value"
	CodeClosed        = "closed"
	CodeBadRequest    = "bad_request"
	CodeInternalError = "internal"
)

// Frame is the single JSON envelope used in both directions. Value is raw
// JSON; null or absent means the path holds nothing.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Sub     string          `json:"sub,omitempty"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	ConnID  string          `json:"conn,omitempty"`
	UserID  string          `json:"uid,omitempty"`
}

func codeFor(err error) string {
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		return CodeBadRequest
	case errors.Is(err, presence.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, presence.ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, presence.ErrInvalidValue):
		return CodeInvalidValue
	case errors.Is(err, presence.ErrClosed):
		return CodeClosed
	default:
		return CodeInternalError
	}
}

// errorFor maps an error frame back onto the presence sentinels so client
// callers can use errors.Is.
func errorFor(f Frame) error {
	var base error
	switch f.Code {
	case CodeForbidden:
		base = presence.ErrForbidden
	case CodeInvalidPath:
		base = presence.ErrInvalidPath
	case CodeInvalidValue:
		base = presence.ErrInvalidValue
	case CodeClosed:
		base = presence.ErrClosed
	default:
		return &RemoteError{Code: f.Code, Message: f.Message}
	}
	return &RemoteError{Code: f.Code, Message: f.Message, base: base}
}

// RemoteError is an error frame received by the client.
type RemoteError struct {
	Code    string
	Message string
	base    error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return "presence server: " + e.Code + ": " + e.Message
	}
	return "presence server: " + e.Code
}

func (e *RemoteError) Unwrap() error { return e.base }
