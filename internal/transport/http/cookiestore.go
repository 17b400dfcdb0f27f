package httptransport

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"nrich-session-guard/internal/domain/kvstore"
)

// CookieStore is a kvstore.Store over one request's cookie jar. Reads see
// the request cookies plus anything written during the request; writes go
// out as Set-Cookie headers. Values are query-escaped by gin.
type CookieStore struct {
	c      *gin.Context
	secure bool

	mu      sync.Mutex
	written map[string]string
	deleted map[string]bool
}

var _ kvstore.Store = (*CookieStore)(nil)

func NewCookieStore(c *gin.Context, secure bool) *CookieStore {
	return &CookieStore{
		c:       c,
		secure:  secure,
		written: make(map[string]string),
		deleted: make(map[string]bool),
	}
}

func (s *CookieStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, kvstore.ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted[key] {
		return "", false, nil
	}
	if v, ok := s.written[key]; ok {
		return v, true, nil
	}
	v, err := s.c.Cookie(key)
	if err != nil {
		return "", false, nil
	}
	return v, true, nil
}

// Set writes a cookie for path "/". ttl <= 0 makes a session cookie.
func (s *CookieStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return kvstore.ErrEmptyKey
	}
	maxAge := 0
	if ttl > 0 {
		maxAge = int(ttl / time.Second)
	}
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(key, value, maxAge, "/", "", s.secure, false)

	s.mu.Lock()
	s.written[key] = value
	delete(s.deleted, key)
	s.mu.Unlock()
	return nil
}

func (s *CookieStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return kvstore.ErrEmptyKey
	}
	s.c.SetCookie(key, "", -1, "/", "", s.secure, false)

	s.mu.Lock()
	delete(s.written, key)
	s.deleted[key] = true
	s.mu.Unlock()
	return nil
}

func (s *CookieStore) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, ck := range s.c.Request.Cookies() {
		if !s.deleted[ck.Name] {
			seen[ck.Name] = true
		}
	}
	for k := range s.written {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *CookieStore) Close(context.Context) error { return nil }
