package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
)

func newPermissionService(t *testing.T) (*PermissionService, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	c := newClock()
	s := NewPermissionService(db, newAudit(db, c), testLogger())
	s.Now = c.Now
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)
	return s, db
}

func TestPermissionService_InitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := NewPermissionService(db, newAudit(db, newClock()), testLogger())

	first, err := s.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, InitResult{PermissionsCreated: 11, MappingsCreated: 17}, first)

	second, err := s.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, InitResult{}, second)

	var perms, mappings int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM permissions").Scan(&perms))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM role_permissions").Scan(&mappings))
	assert.Equal(t, 11, perms)
	assert.Equal(t, 17, mappings)
}

func TestPermissionService_RoleResolution(t *testing.T) {
	ctx := context.Background()
	s, db := newPermissionService(t)
	u := createUser(t, db, "user@example.com", "password123", model.RoleUser)

	tests := []struct {
		permission string
		allowed    bool
		rule       string
	}{
		{PermProfileRead, true, "role"},
		{PermDevicesManage, true, "role"},
		{PermAuditRead, false, "default"},
		{PermAdminManage, false, "default"},
		{"reports.export", false, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.permission, func(t *testing.T) {
			d, err := s.Authorize(ctx, u.ID, tt.permission)
			require.NoError(t, err)
			assert.Equal(t, Decision{Allowed: tt.allowed, Permission: tt.permission, Rule: tt.rule}, d)
		})
	}

	ok, err := s.CanUserPerform(ctx, u.ID, "security", "read")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CanUserPerform(ctx, u.ID, "users", "manage")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasPermission(ctx, 9999, PermProfileRead)
	require.NoError(t, err)
	assert.False(t, ok, "unknown user")
}

func TestPermissionService_OverrideWinsOverRole(t *testing.T) {
	ctx := context.Background()
	s, db := newPermissionService(t)
	admin := createUser(t, db, "admin@example.com", "password123", model.RoleAdmin)
	u := createUser(t, db, "user@example.com", "password123", model.RoleUser)

	require.NoError(t, s.SetUserOverride(ctx, admin.ID, u.ID, PermAuditRead, true, RequestMeta{}))
	require.NoError(t, s.SetUserOverride(ctx, admin.ID, u.ID, PermProfileRead, false, RequestMeta{}))

	d, err := s.Authorize(ctx, u.ID, PermAuditRead)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Permission: PermAuditRead, Rule: "override"}, d)
	d, err = s.Authorize(ctx, u.ID, PermProfileRead)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Permission: PermProfileRead, Rule: "override"}, d)

	// replacing an override updates it in place
	require.NoError(t, s.SetUserOverride(ctx, admin.ID, u.ID, PermProfileRead, true, RequestMeta{}))
	ok, err := s.HasPermission(ctx, u.ID, PermProfileRead)
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := s.ClearUserOverride(ctx, admin.ID, u.ID, PermAuditRead, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.ClearUserOverride(ctx, admin.ID, u.ID, PermAuditRead, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, removed)

	d, err = s.Authorize(ctx, u.ID, PermAuditRead)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Permission: PermAuditRead, Rule: "default"}, d)

	assert.Equal(t, 4, countActions(t, db, model.ActionPermissionChanged))

	err = s.SetUserOverride(ctx, admin.ID, u.ID, "reports.export", true, RequestMeta{})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	err = s.SetUserOverride(ctx, admin.ID, 9999, PermAuditRead, true, RequestMeta{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPermissionService_AdminBypass(t *testing.T) {
	ctx := context.Background()
	s, db := newPermissionService(t)
	admin := createUser(t, db, "admin@example.com", "password123", model.RoleAdmin)

	d, err := s.Authorize(ctx, admin.ID, "reports.export")
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Permission: "reports.export", Rule: "admin_bypass"}, d)

	// the bypass never decides admin.manage itself
	d, err = s.Authorize(ctx, admin.ID, PermAdminManage)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Permission: PermAdminManage, Rule: "role"}, d)

	// a deny override on admin.manage switches the bypass off
	require.NoError(t, s.SetUserOverride(ctx, admin.ID, admin.ID, PermAdminManage, false, RequestMeta{}))
	d, err = s.Authorize(ctx, admin.ID, "reports.export")
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Permission: "reports.export", Rule: "default"}, d)
	d, err = s.Authorize(ctx, admin.ID, PermUsersManage)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Permission: PermUsersManage, Rule: "role"}, d)

	// an explicit grant makes a plain user an admin for policy purposes
	u := createUser(t, db, "user@example.com", "password123", model.RoleUser)
	require.NoError(t, s.SetUserOverride(ctx, admin.ID, u.ID, PermAdminManage, true, RequestMeta{}))
	ok, err := s.CanUserPerform(ctx, u.ID, "users", "manage")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionService_WithoutRules(t *testing.T) {
	ctx := context.Background()
	s, db := newPermissionService(t)
	s.SetRules()
	admin := createUser(t, db, "admin@example.com", "password123", model.RoleAdmin)

	d, err := s.Authorize(ctx, admin.ID, "reports.export")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "default", d.Rule)
}

func TestPermissionService_EffectivePermissions(t *testing.T) {
	ctx := context.Background()
	s, db := newPermissionService(t)
	u := createUser(t, db, "user@example.com", "password123", model.RoleUser)
	admin := createUser(t, db, "admin@example.com", "password123", model.RoleAdmin)

	got, err := s.EffectivePermissions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		PermDevicesManage, PermProfileRead, PermProfileUpdate,
		PermSecurityRead, PermTokensCreate, PermTokensRevoke,
	}, got)

	got, err = s.EffectivePermissions(ctx, admin.ID)
	require.NoError(t, err)
	assert.Len(t, got, len(DefaultPermissions))
}

func TestPermissionName(t *testing.T) {
	assert.Equal(t, "audit.read", PermissionName("audit", "read"))
}
