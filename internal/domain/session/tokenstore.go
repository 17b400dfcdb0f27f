package session

import (
	"context"
	"time"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/kvstore"
)

// Credentials is everything a successful login persists.
type Credentials struct {
	Token      string
	NrichToken string
	Role       auth.Role
	UserData   string
}

// TokenStore reads and writes the session across the persistent local store
// and the cookie jar.
type TokenStore struct {
	local     kvstore.Store
	cookies   kvstore.Store
	cookieTTL time.Duration
}

// NewTokenStore binds both stores. cookieTTL is the lifetime of cookie writes.
func NewTokenStore(local, cookies kvstore.Store, cookieTTL time.Duration) *TokenStore {
	return &TokenStore{local: local, cookies: cookies, cookieTTL: cookieTTL}
}

func (s *TokenStore) Local() kvstore.Store   { return s.local }
func (s *TokenStore) Cookies() kvstore.Store { return s.cookies }

// Token prefers the cookie and falls back to the local store.
func (s *TokenStore) Token(ctx context.Context) string {
	if v := kvstore.GetString(ctx, s.cookies, KeyToken); v != "" {
		return v
	}
	return kvstore.GetString(ctx, s.local, KeyToken)
}

// LocalToken reads only the local store copy.
func (s *TokenStore) LocalToken(ctx context.Context) string {
	return kvstore.GetString(ctx, s.local, KeyToken)
}

// HasToken reports whether either store carries a token.
func (s *TokenStore) HasToken(ctx context.Context) bool {
	return s.Token(ctx) != ""
}

// Role returns the cached role string exactly as stored.
func (s *TokenStore) Role(ctx context.Context) string {
	return kvstore.GetString(ctx, s.local, KeyUserRole)
}

// UserData parses the cached profile. A missing profile yields nil, nil.
func (s *TokenStore) UserData(ctx context.Context) (map[string]any, error) {
	return auth.ParseUserData(kvstore.GetString(ctx, s.local, KeyUserData))
}

// Save persists credentials. Cookies carry token and nrich_token only, and
// nrich_token only when non-empty.
func (s *TokenStore) Save(ctx context.Context, c Credentials) error {
	local := []struct{ k, v string }{
		{KeyToken, c.Token},
		{KeyNrichToken, c.NrichToken},
		{KeyUserRole, string(c.Role)},
		{KeyUserData, c.UserData},
	}
	for _, kv := range local {
		if err := s.local.Set(ctx, kv.k, kv.v, 0); err != nil {
			return err
		}
	}

	if s.cookies == nil {
		return nil
	}
	if err := s.cookies.Set(ctx, KeyToken, c.Token, s.cookieTTL); err != nil {
		return err
	}
	if c.NrichToken != "" {
		if err := s.cookies.Set(ctx, KeyNrichToken, c.NrichToken, s.cookieTTL); err != nil {
			return err
		}
	}
	return nil
}

// Clear wipes both stores except preserve.
func (s *TokenStore) Clear(ctx context.Context, preserve []string) error {
	if err := kvstore.ClearExcept(ctx, s.local, preserve...); err != nil {
		return err
	}
	if s.cookies == nil {
		return nil
	}
	return kvstore.ClearExcept(ctx, s.cookies, preserve...)
}
