package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing   = errors.New("auth: token missing")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenInvalid   = errors.New("auth: token invalid")
)

// SessionClaims is the payload of a session token: {user:{uid, role, company_id, ...}}.
type SessionClaims struct {
	User map[string]any `json:"user"`
	jwt.RegisteredClaims
}

// Identity is the canonical view of a decoded session.
type Identity struct {
	UID       string
	Role      Role
	RawRole   string
	CompanyID string
	Payload   map[string]any
}

func identityFromClaims(c *SessionClaims) *Identity {
	payload := map[string]any{"user": c.User}
	raw := ResolveRole(payload)
	id := &Identity{
		UID:       ResolveUserID(payload),
		RawRole:   raw,
		CompanyID: stringAt(payload, "user", "company_id"),
		Payload:   payload,
	}
	if raw != "" {
		id.Role = NormalizeRole(raw)
	}
	return id
}

// DecodeUnverified decodes a session token without checking its signature.
// Verification belongs to the backend and the presence server.
func DecodeUnverified(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return identityFromClaims(claims), nil
}

// AuthToken signs and verifies HS256 session tokens.
type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
}

// NewAuthToken builds a token helper using the provided secret.
func NewAuthToken(secretKey string) *AuthToken {
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       24 * time.Hour,
	}
}

// WithTTL allows customising the expiration duration.
func (at *AuthToken) WithTTL(ttl time.Duration) *AuthToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// GenerateToken issues a session token for user.
func (at *AuthToken) GenerateToken(user map[string]any) (string, error) {
	if at == nil {
		return "", errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return "", errors.New("auth token secret is empty")
	}

	now := time.Now()
	claims := SessionClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(at.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken validates signature and expiry and returns the identity.
func (at *AuthToken) VerifyToken(tokenString string) (*Identity, error) {
	if at == nil {
		return nil, errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return nil, errors.New("auth token secret is empty")
	}
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	id := identityFromClaims(claims)
	if id.UID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	return id, nil
}
