package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) LocalToken(context.Context) string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		Retries:   1,
		RetryWait: time.Millisecond,
		Tokens:    staticToken(token),
	})
}

func TestClientAttachesBearerAndDecodes(t *testing.T) {
	var gotAuth, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("page")
		_, _ = io.WriteString(w, `{"user":{"uid":"u1"},"ok":true}`)
	}, "T")

	resp := c.Get(context.Background(), "/api/things", map[string]string{"page": "2"})
	assert.True(t, resp.Status)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Bearer T", gotAuth)
	assert.Equal(t, "2", gotQuery)
	assert.Equal(t, "u1", resp.String("user", "uid"))
	assert.True(t, resp.Bool("ok"))
	assert.Nil(t, resp.Field("user", "missing", "deeper"))
}

func TestClientOmitsAuthorizationWithoutToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{}`)
	}, "")

	resp := c.Post(context.Background(), "/x", map[string]string{"a": "b"})
	assert.True(t, resp.Status)
	assert.Empty(t, gotAuth)
}

func TestClientNormalizesFailures(t *testing.T) {
	t.Run("http error keeps body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"status":false,"msg":"Access Denied"}`)
		}, "")
		resp := c.Put(context.Background(), "/x", map[string]int{"n": 1})
		assert.False(t, resp.Status)
		assert.Equal(t, "Access Denied", resp.Msg())
	})

	t.Run("undecodable body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		}, "")
		resp := c.Patch(context.Background(), "/x", nil)
		assert.False(t, resp.Status)
		assert.NotEmpty(t, resp.Msg())
	})

	t.Run("unreachable backend", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := New(Options{BaseURL: srv.URL, Timeout: time.Second})
		resp := c.Delete(context.Background(), "/x", nil)
		assert.False(t, resp.Status)
		assert.NotEmpty(t, resp.Msg())
	})
}

func TestExchangeLoginRetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	var body map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"msg":"upstream"}`)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"status":true,"token":"T"}`)
	}, "")

	resp := c.ExchangeLogin(context.Background(), "u1")
	assert.True(t, resp.Status)
	assert.Equal(t, "T", resp.String("token"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "u1", body["id"])
}

func TestExchangeLoginGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"msg":"down"}`)
	}, "")

	resp := c.ExchangeLogin(context.Background(), "u1")
	assert.False(t, resp.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExchangeLoginDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"status":false,"msg":"Access Denied"}`)
	}, "")

	resp := c.ExchangeLogin(context.Background(), "u1")
	assert.False(t, resp.Status)
	assert.Equal(t, "Access Denied", resp.Msg())
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrdinaryCallsDoNotRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{}`)
	}, "")

	c.Post(context.Background(), "/x", map[string]string{})
	assert.Equal(t, int32(1), calls.Load())
}

func TestCurrentUserID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, currentUserPath, r.URL.Path)
			_, _ = io.WriteString(w, `{"user":{"uid":"6650c0ffee"}}`)
		}, "T")
		uid, err := c.CurrentUserID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "6650c0ffee", uid)
	})

	t.Run("missing uid", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"user":{}}`)
		}, "T")
		_, err := c.CurrentUserID(context.Background())
		assert.ErrorIs(t, err, ErrNoUserID)
	})

	t.Run("backend error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"msg":"expired"}`)
		}, "T")
		_, err := c.CurrentUserID(context.Background())
		assert.ErrorContains(t, err, "expired")
	})
}
