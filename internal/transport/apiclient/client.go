// Package apiclient talks to the CRM backend. Calls never fail: transport and
// decode problems come back as Response{Status: false, Data: {"msg": ...}}.
package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/platform/observability"
)

const (
	DefaultBaseURL = "http://localhost:1011"

	loginPath       = "/login-user"
	currentUserPath = "/api/users/admin"
)

// ErrNoUserID is returned by CurrentUserID when the backend answers without a uid.
var ErrNoUserID = errors.New("apiclient: response carries no user id")

// TokenSource supplies the bearer token. session.TokenStore satisfies it.
type TokenSource interface {
	LocalToken(ctx context.Context) string
}

// Response mirrors the backend envelope: Status is the HTTP success flag and
// Data the decoded JSON body.
type Response struct {
	Status bool
	Code   int
	Data   any
}

// Object returns Data as a JSON object, or nil.
func (r Response) Object() map[string]any {
	m, _ := r.Data.(map[string]any)
	return m
}

// Field walks nested objects in Data.
func (r Response) Field(path ...string) any {
	var cur any = r.Data
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

// String returns the string at path, or "".
func (r Response) String(path ...string) string {
	s, _ := r.Field(path...).(string)
	return s
}

// Bool returns the JSON truthiness of the value at path.
func (r Response) Bool(path ...string) bool {
	switch v := r.Field(path...).(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case nil:
		return false
	default:
		return true
	}
}

// Msg is the backend or client failure message.
func (r Response) Msg() string { return r.String("msg") }

func failure(err error) Response {
	msg := "An error occurred"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Response{Status: false, Data: map[string]any{"msg": msg}}
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	Tokens    TokenSource
	Logger    logging.Leveled
}

// Client wraps two resty clients: one for ordinary calls and one with the
// bounded retry policy used by the login exchange.
type Client struct {
	http     *resty.Client
	exchange *resty.Client
	tokens   TokenSource
	logger   logging.Leveled
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 200 * time.Millisecond
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	c := &Client{
		http:     newResty(base, opts.Timeout),
		exchange: newResty(base, opts.Timeout),
		tokens:   opts.Tokens,
		logger:   logging.OrNop(opts.Logger),
	}
	c.exchange.
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait * 4).
		AddRetryCondition(retryable)
	return c
}

func newResty(base string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
}

// retryable allows another attempt on transport failure or a 5xx answer.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

func (c *Client) Get(ctx context.Context, path string, params map[string]string) Response {
	return c.do(ctx, c.http, http.MethodGet, path, params, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) Response {
	return c.do(ctx, c.http, http.MethodPost, path, nil, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) Response {
	return c.do(ctx, c.http, http.MethodPut, path, nil, body)
}

func (c *Client) Patch(ctx context.Context, path string, body any) Response {
	return c.do(ctx, c.http, http.MethodPatch, path, nil, body)
}

// Delete sends body only when it is non-nil.
func (c *Client) Delete(ctx context.Context, path string, body any) Response {
	return c.do(ctx, c.http, http.MethodDelete, path, nil, body)
}

// ExchangeLogin trades a decrypted identifier for a session token.
func (c *Client) ExchangeLogin(ctx context.Context, id string) Response {
	return c.do(ctx, c.exchange, http.MethodPost, loginPath, nil, map[string]string{"id": id})
}

// CurrentUserID asks the backend who the bearer token belongs to.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	resp := c.Get(ctx, currentUserPath, nil)
	if !resp.Status {
		return "", errors.New("apiclient: current user: " + resp.Msg())
	}
	uid := resp.String("user", "uid")
	if uid == "" {
		return "", ErrNoUserID
	}
	return uid, nil
}

func (c *Client) do(ctx context.Context, rc *resty.Client, method, path string, params map[string]string, body any) (out Response) {
	ctx, finish := observability.StartSpan(ctx, "apiclient", method+" "+path)
	defer func() {
		if out.Status {
			finish(nil)
		} else {
			finish(errors.New(out.Msg()))
		}
	}()

	req := rc.R().SetContext(ctx)
	if c.tokens != nil {
		if tok := c.tokens.LocalToken(ctx); tok != "" {
			req.SetAuthToken(tok)
		}
	}
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error("%s %s failed: %v", method, path, err)
		return failure(err)
	}

	var data any
	if err := sonic.Unmarshal(resp.Body(), &data); err != nil {
		c.logger.Error("%s %s returned undecodable body (status %d): %v", method, path, resp.StatusCode(), err)
		return failure(err)
	}

	observability.RecordMetric(ctx, "apiclient.requests", 1, map[string]string{
		"method": method,
		"code":   strconv.Itoa(resp.StatusCode()),
	})
	return Response{Status: !resp.IsError(), Code: resp.StatusCode(), Data: data}
}
