package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
)

// Permission names used by this service. Names follow resource.action.
const (
	PermProfileRead       = "profile.read"
	PermProfileUpdate     = "profile.update"
	PermTokensCreate      = "tokens.create"
	PermTokensRevoke      = "tokens.revoke"
	PermDevicesManage     = "devices.manage"
	PermSecurityRead      = "security.read"
	PermUsersRead         = "users.read"
	PermUsersManage       = "users.manage"
	PermAuditRead         = "audit.read"
	PermPermissionsManage = "permissions.manage"
	PermAdminManage       = "admin.manage"
)

// PermissionName builds the permission name for a resource and action.
func PermissionName(resource, action string) string { return resource + "." + action }

// DefaultPermissions is the catalog seeded by Initialize.
var DefaultPermissions = []model.Permission{
	{Name: PermProfileRead, Resource: "profile", Action: "read", Description: "Read own profile"},
	{Name: PermProfileUpdate, Resource: "profile", Action: "update", Description: "Update own profile"},
	{Name: PermTokensCreate, Resource: "tokens", Action: "create", Description: "Create API tokens"},
	{Name: PermTokensRevoke, Resource: "tokens", Action: "revoke", Description: "Revoke own API tokens"},
	{Name: PermDevicesManage, Resource: "devices", Action: "manage", Description: "Trust and remove own devices"},
	{Name: PermSecurityRead, Resource: "security", Action: "read", Description: "Read own security activity"},
	{Name: PermUsersRead, Resource: "users", Action: "read", Description: "Read any user"},
	{Name: PermUsersManage, Resource: "users", Action: "manage", Description: "Create, update and delete users"},
	{Name: PermAuditRead, Resource: "audit", Action: "read", Description: "Read the global audit log"},
	{Name: PermPermissionsManage, Resource: "permissions", Action: "manage", Description: "Grant and revoke user permissions"},
	{Name: PermAdminManage, Resource: "admin", Action: "manage", Description: "Full administrative access"},
}

// DefaultRolePermissions maps each role to its seeded permissions.
var DefaultRolePermissions = map[string][]string{
	model.RoleUser: {
		PermProfileRead, PermProfileUpdate, PermTokensCreate, PermTokensRevoke,
		PermDevicesManage, PermSecurityRead,
	},
	model.RoleAdmin: {
		PermProfileRead, PermProfileUpdate, PermTokensCreate, PermTokensRevoke,
		PermDevicesManage, PermSecurityRead, PermUsersRead, PermUsersManage,
		PermAuditRead, PermPermissionsManage, PermAdminManage,
	},
}

// Decision explains an authorization outcome. Rule names the policy rule
// that decided, or "override", "role" or "default" for the resolver.
type Decision struct {
	Allowed    bool
	Permission string
	Rule       string
}

// PolicyRule is evaluated before the resolver. A rule that does not apply
// returns applies=false and the next rule is consulted.
type PolicyRule interface {
	Name() string
	Evaluate(ctx context.Context, userID uint64, permission string) (allowed, applies bool, err error)
}

// AdminBypassRule allows every permission to users who hold admin.manage.
// It reads admin.manage through the resolver, so a user override can take
// the bypass away from an admin.
type AdminBypassRule struct{ Resolver *PermissionService }

func (AdminBypassRule) Name() string { return "admin_bypass" }

func (r AdminBypassRule) Evaluate(ctx context.Context, userID uint64, permission string) (bool, bool, error) {
	if permission == PermAdminManage {
		return false, false, nil
	}
	has, err := r.Resolver.HasPermission(ctx, userID, PermAdminManage)
	if err != nil {
		return false, false, err
	}
	return has, has, nil
}

// PermissionService resolves permissions: explicit rules first, then the
// user's override, then the user's role. Absence of any record denies.
type PermissionService struct {
	repo  *repository.PermissionRepo
	users *repository.UserRepo
	audit *AuditService
	rules []PolicyRule
	log   zerolog.Logger

	Now func() time.Time
}

// NewPermissionService builds a resolver with AdminBypassRule installed.
func NewPermissionService(db *sql.DB, audit *AuditService, log zerolog.Logger) *PermissionService {
	s := &PermissionService{
		repo:  repository.NewPermissionRepo(db),
		users: repository.NewUserRepo(db),
		audit: audit,
		log:   log,
		Now:   utcNow,
	}
	s.rules = []PolicyRule{AdminBypassRule{Resolver: s}}
	return s
}

// SetRules replaces the policy rules evaluated before the resolver.
func (s *PermissionService) SetRules(rules ...PolicyRule) { s.rules = rules }

// HasPermission applies the resolver only: override first, then role.
func (s *PermissionService) HasPermission(ctx context.Context, userID uint64, name string) (bool, error) {
	ok, _, err := s.resolve(ctx, userID, name)
	return ok, err
}

func (s *PermissionService) resolve(ctx context.Context, userID uint64, name string) (bool, string, error) {
	granted, found, err := s.repo.UserOverride(ctx, userID, name)
	if err != nil {
		return false, "", fmt.Errorf("load permission override: %w", err)
	}
	if found {
		return granted, "override", nil
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, "default", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("load user: %w", err)
	}
	has, err := s.repo.RoleHas(ctx, u.Role, name)
	if err != nil {
		return false, "", fmt.Errorf("load role permission: %w", err)
	}
	if has {
		return true, "role", nil
	}
	return false, "default", nil
}

// Authorize evaluates the policy rules, then the resolver.
func (s *PermissionService) Authorize(ctx context.Context, userID uint64, permission string) (Decision, error) {
	for _, r := range s.rules {
		allowed, applies, err := r.Evaluate(ctx, userID, permission)
		if err != nil {
			return Decision{}, fmt.Errorf("policy %s: %w", r.Name(), err)
		}
		if applies {
			return Decision{Allowed: allowed, Permission: permission, Rule: r.Name()}, nil
		}
	}
	ok, source, err := s.resolve(ctx, userID, permission)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: ok, Permission: permission, Rule: source}, nil
}

// CanUserPerform authorizes the permission named by resource and action.
func (s *PermissionService) CanUserPerform(ctx context.Context, userID uint64, resource, action string) (bool, error) {
	d, err := s.Authorize(ctx, userID, PermissionName(resource, action))
	return d.Allowed, err
}

// InitResult counts what Initialize inserted.
type InitResult struct {
	PermissionsCreated int
	MappingsCreated    int
}

// Initialize seeds the default catalog and role mappings. Existing rows are
// left alone, so running it repeatedly is safe.
func (s *PermissionService) Initialize(ctx context.Context) (InitResult, error) {
	var res InitResult
	ids := make(map[string]uint64, len(DefaultPermissions))
	for _, p := range DefaultPermissions {
		id, created, err := s.repo.Ensure(ctx, p)
		if err != nil {
			return res, fmt.Errorf("seed permission %s: %w", p.Name, err)
		}
		ids[p.Name] = id
		if created {
			res.PermissionsCreated++
		}
	}
	roles := make([]string, 0, len(DefaultRolePermissions))
	for role := range DefaultRolePermissions {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		for _, name := range DefaultRolePermissions[role] {
			created, err := s.repo.EnsureRolePermission(ctx, role, ids[name])
			if err != nil {
				return res, fmt.Errorf("seed %s -> %s: %w", role, name, err)
			}
			if created {
				res.MappingsCreated++
			}
		}
	}
	s.log.Info().Int("permissions", res.PermissionsCreated).Int("mappings", res.MappingsCreated).Msg("permissions initialized")
	return res, nil
}

// SetUserOverride grants or denies a permission to one user regardless of
// role. actorID is recorded in the audit trail.
func (s *PermissionService) SetUserOverride(ctx context.Context, actorID, userID uint64, name string, granted bool, meta RequestMeta) error {
	p, err := s.lookup(ctx, userID, name)
	if err != nil {
		return err
	}
	override := model.UserPermission{UserID: userID, PermissionID: p.ID, Granted: granted, CreatedAt: s.Now().UTC()}
	if err := s.repo.SetUserOverride(ctx, override); err != nil {
		return fmt.Errorf("store permission override: %w", err)
	}
	_, err = s.audit.Log(ctx, Event{
		UserID:   &actorID,
		Action:   model.ActionPermissionChanged,
		Resource: "permission",
		Details:  model.Details{"permission": name, "targetUserId": fmt.Sprint(userID), "granted": fmt.Sprint(granted)},
		Meta:     meta,
		Success:  true,
	})
	return err
}

// ClearUserOverride removes an override so the role mapping applies again.
func (s *PermissionService) ClearUserOverride(ctx context.Context, actorID, userID uint64, name string, meta RequestMeta) (bool, error) {
	p, err := s.lookup(ctx, userID, name)
	if err != nil {
		return false, err
	}
	removed, err := s.repo.DeleteUserOverride(ctx, userID, p.ID)
	if err != nil {
		return false, fmt.Errorf("delete permission override: %w", err)
	}
	if !removed {
		return false, nil
	}
	_, err = s.audit.Log(ctx, Event{
		UserID:   &actorID,
		Action:   model.ActionPermissionChanged,
		Resource: "permission",
		Details:  model.Details{"permission": name, "targetUserId": fmt.Sprint(userID), "granted": "cleared"},
		Meta:     meta,
		Success:  true,
	})
	return true, err
}

func (s *PermissionService) lookup(ctx context.Context, userID uint64, name string) (model.Permission, error) {
	p, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Permission{}, ErrUnknownPermission
	}
	if err != nil {
		return model.Permission{}, fmt.Errorf("load permission: %w", err)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return model.Permission{}, err
	}
	return p, nil
}

// EffectivePermissions lists every catalog permission Authorize would allow
// for userID, sorted by name.
func (s *PermissionService) EffectivePermissions(ctx context.Context, userID uint64) ([]string, error) {
	catalog, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	out := []string{}
	for _, p := range catalog {
		d, err := s.Authorize(ctx, userID, p.Name)
		if err != nil {
			return nil, err
		}
		if d.Allowed {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}
