package auth

import "strings"

// Role is the closed set of dashboard roles.
type Role string

const (
	RoleSuperAdmin Role = "SuperAdmin"
	RoleAdmin      Role = "Admin"
	RoleSubAdmin   Role = "SubAdmin"
)

var roleLevel = map[Role]int{
	RoleSuperAdmin: 3,
	RoleAdmin:      2,
	RoleSubAdmin:   1,
}

// NormalizeRole maps a free-text server role onto Role. It is total: anything
// that does not mention "super" or "sub" becomes Admin.
func NormalizeRole(raw string) Role {
	r := strings.ToLower(raw)
	switch {
	case strings.Contains(r, "super"):
		return RoleSuperAdmin
	case strings.Contains(r, "sub"):
		return RoleSubAdmin
	default:
		return RoleAdmin
	}
}

// IsValid reports whether r is one of the three canonical values.
func (r Role) IsValid() bool {
	_, ok := roleLevel[r]
	return ok
}

// HasPermission reports whether r ranks at or above required.
func (r Role) HasPermission(required Role) bool {
	return roleLevel[r] >= roleLevel[required]
}

// Segment is the lower-cased path segment for r, e.g. "subadmin".
func (r Role) Segment() string {
	return strings.ToLower(string(r))
}

func (r Role) String() string { return string(r) }

// RequiredRoleForPath derives the role a path demands. The match is a raw
// prefix test, so "/administrator" also requires Admin.
func RequiredRoleForPath(path string) (Role, bool) {
	switch {
	case strings.HasPrefix(path, "/admin"):
		return RoleAdmin, true
	case strings.HasPrefix(path, "/subadmin"):
		return RoleSubAdmin, true
	default:
		return "", false
	}
}
