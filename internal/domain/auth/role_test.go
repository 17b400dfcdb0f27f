package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"SuperAdmin":     RoleSuperAdmin,
		"superadmin":     RoleSuperAdmin,
		"the SUPER user": RoleSuperAdmin,
		"super-sub":      RoleSuperAdmin,
		"SubAdmin":       RoleSubAdmin,
		"sub_admin":      RoleSubAdmin,
		"xSUBx":          RoleSubAdmin,
		"Admin":          RoleAdmin,
		"manager":        RoleAdmin,
		"":               RoleAdmin,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got := NormalizeRole(in)
			assert.Equal(t, want, got)
			assert.True(t, got.IsValid())
		})
	}
}

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleSuperAdmin.HasPermission(RoleAdmin))
	assert.True(t, RoleSuperAdmin.HasPermission(RoleSubAdmin))
	assert.True(t, RoleAdmin.HasPermission(RoleSubAdmin))
	assert.True(t, RoleAdmin.HasPermission(RoleAdmin))
	assert.False(t, RoleSubAdmin.HasPermission(RoleAdmin))
	assert.False(t, RoleAdmin.HasPermission(RoleSuperAdmin))
	assert.False(t, Role("Owner").IsValid())
	assert.Equal(t, "subadmin", RoleSubAdmin.Segment())
}

func TestRequiredRoleForPath(t *testing.T) {
	cases := []struct {
		path string
		role Role
		ok   bool
	}{
		{"/admin/leaddashboard", RoleAdmin, true},
		{"/admin", RoleAdmin, true},
		{"/administrator", RoleAdmin, true},
		{"/subadmin/workflow", RoleSubAdmin, true},
		{"/", "", false},
		{"/login", "", false},
		{"/superadmin/leaddashboard", "", false},
		{"admin/leaddashboard", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			role, ok := RequiredRoleForPath(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.role, role)
		})
	}
}
