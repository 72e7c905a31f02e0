package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

// AuditRepo appends to and reads from security_audit_logs. There is no
// update or delete path.
type AuditRepo struct{ DB database.Querier }

func NewAuditRepo(db database.Querier) *AuditRepo { return &AuditRepo{DB: db} }

// WithTx returns a repo bound to tx.
func (r *AuditRepo) WithTx(tx *sql.Tx) *AuditRepo { return &AuditRepo{DB: tx} }

// Append inserts one event.
func (r *AuditRepo) Append(ctx context.Context, e *model.SecurityAuditLog) error {
	details, err := model.EncodeDetails(e.Details)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO security_audit_logs
		 (user_id, action, resource, ip_address, user_agent, device_fingerprint, details, success, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		e.UserID, e.Action, e.Resource, e.IPAddress, e.UserAgent, e.DeviceFingerprint,
		details, e.Success, database.Millis(e.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

const auditColumns = "id, user_id, action, resource, ip_address, user_agent, device_fingerprint, details, success, created_at"

// LatestForUser returns the newest limit events of userID.
func (r *AuditRepo) LatestForUser(ctx context.Context, userID uint64, limit int) ([]model.SecurityAuditLog, error) {
	return r.list(ctx,
		"SELECT "+auditColumns+" FROM security_audit_logs WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?",
		userID, limit)
}

// Latest returns the newest limit events across all users, optionally
// filtered by action.
func (r *AuditRepo) Latest(ctx context.Context, action string, limit int) ([]model.SecurityAuditLog, error) {
	if action != "" {
		return r.list(ctx,
			"SELECT "+auditColumns+" FROM security_audit_logs WHERE action=? ORDER BY created_at DESC, id DESC LIMIT ?",
			action, limit)
	}
	return r.list(ctx,
		"SELECT "+auditColumns+" FROM security_audit_logs ORDER BY created_at DESC, id DESC LIMIT ?", limit)
}

func (r *AuditRepo) list(ctx context.Context, query string, args ...any) ([]model.SecurityAuditLog, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SecurityAuditLog
	for rows.Next() {
		var (
			e       model.SecurityAuditLog
			uid     sql.NullInt64
			details string
			created int64
		)
		if err := rows.Scan(&e.ID, &uid, &e.Action, &e.Resource, &e.IPAddress, &e.UserAgent,
			&e.DeviceFingerprint, &details, &e.Success, &created); err != nil {
			return nil, err
		}
		if uid.Valid {
			v := uint64(uid.Int64)
			e.UserID = &v
		}
		if e.Details, err = model.DecodeDetails(details); err != nil {
			return nil, fmt.Errorf("audit %d: %w", e.ID, err)
		}
		e.CreatedAt = database.FromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
