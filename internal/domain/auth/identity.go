package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// userIDPaths lists where historical payloads kept the user id, in priority order.
var userIDPaths = [][]string{
	{"uid"},
	{"user", "uid"},
	{"_id"},
	{"id"},
	{"user", "_id"},
	{"user", "id"},
}

// ResolveUserID returns the canonical user id from a decoded token payload or
// a cached profile. Unknown shapes yield "".
func ResolveUserID(data map[string]any) string {
	if data == nil {
		return ""
	}
	for _, path := range userIDPaths {
		if v := stringAt(data, path...); v != "" {
			return v
		}
	}
	return ""
}

// ResolveRole returns the raw role string from data.role or data.user.role.
func ResolveRole(data map[string]any) string {
	if v := stringAt(data, "user", "role"); v != "" {
		return v
	}
	return stringAt(data, "role")
}

// StringAt walks nested maps and returns the leaf as a string.
func StringAt(data map[string]any, path ...string) string {
	return stringAt(data, path...)
}

func stringAt(data map[string]any, path ...string) string {
	var cur any = data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[key]
		if !ok {
			return ""
		}
	}
	return scalarString(cur)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int64, int32, uint, uint64:
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// ParseUserData decodes the cached userData JSON string.
func ParseUserData(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var data map[string]any
	if err := sonic.UnmarshalString(raw, &data); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}
	return data, nil
}
