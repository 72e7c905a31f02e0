package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

// PermissionRepo reads and writes permissions, role mappings and per-user
// overrides.
type PermissionRepo struct{ DB database.Querier }

func NewPermissionRepo(db database.Querier) *PermissionRepo { return &PermissionRepo{DB: db} }

// GetByName retrieves a permission by its unique name.
func (r *PermissionRepo) GetByName(ctx context.Context, name string) (model.Permission, error) {
	var p model.Permission
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name, resource, action, description FROM permissions WHERE name=? LIMIT 1", name).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Permission{}, ErrNotFound
	}
	return p, err
}

// List returns the whole catalog ordered by resource and action.
func (r *PermissionRepo) List(ctx context.Context) ([]model.Permission, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, name, resource, action, description FROM permissions ORDER BY resource, action")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ensure inserts p unless a permission with the same name exists, and
// returns the stored ID. created is false when the row was already there.
func (r *PermissionRepo) Ensure(ctx context.Context, p model.Permission) (id uint64, created bool, err error) {
	existing, err := r.GetByName(ctx, p.Name)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO permissions (name, resource, action, description) VALUES (?,?,?,?)",
		p.Name, p.Resource, p.Action, p.Description)
	if database.IsDuplicateKey(err) {
		// seeded concurrently
		existing, err := r.GetByName(ctx, p.Name)
		return existing.ID, false, err
	}
	if err != nil {
		return 0, false, err
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return uint64(n), true, nil
}

// EnsureRolePermission maps role to permissionID if not mapped yet.
func (r *PermissionRepo) EnsureRolePermission(ctx context.Context, role string, permissionID uint64) (bool, error) {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO role_permissions (role, permission_id) VALUES (?,?)", role, permissionID)
	if database.IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UserOverride reports the override a user has for a permission name.
// found is false when no override row exists.
func (r *PermissionRepo) UserOverride(ctx context.Context, userID uint64, name string) (granted, found bool, err error) {
	err = r.DB.QueryRowContext(ctx,
		`SELECT up.granted FROM user_permissions up
		 INNER JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id=? AND p.name=? LIMIT 1`,
		userID, name).Scan(&granted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return granted, true, nil
}

// RoleHas checks whether role is mapped to the permission name.
func (r *PermissionRepo) RoleHas(ctx context.Context, role, name string) (bool, error) {
	var has bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM role_permissions rp
			INNER JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role=? AND p.name=?
		)`, role, name).Scan(&has)
	return has, err
}

// SetUserOverride inserts or replaces a user's override.
func (r *PermissionRepo) SetUserOverride(ctx context.Context, up model.UserPermission) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO user_permissions (user_id, permission_id, granted, created_at) VALUES (?,?,?,?)",
		up.UserID, up.PermissionID, up.Granted, database.Millis(up.CreatedAt))
	if database.IsDuplicateKey(err) {
		_, err = r.DB.ExecContext(ctx,
			"UPDATE user_permissions SET granted=?, created_at=? WHERE user_id=? AND permission_id=?",
			up.Granted, database.Millis(up.CreatedAt), up.UserID, up.PermissionID)
	}
	return err
}

// DeleteUserOverride removes an override so role mappings apply again.
func (r *PermissionRepo) DeleteUserOverride(ctx context.Context, userID, permissionID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM user_permissions WHERE user_id=? AND permission_id=?", userID, permissionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
