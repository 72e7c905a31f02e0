package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

// DeviceRepo persists trusted_devices rows.
type DeviceRepo struct{ DB database.Querier }

func NewDeviceRepo(db database.Querier) *DeviceRepo { return &DeviceRepo{DB: db} }

// WithTx returns a repo bound to tx.
func (r *DeviceRepo) WithTx(tx *sql.Tx) *DeviceRepo { return &DeviceRepo{DB: tx} }

const deviceColumns = "id, user_id, fingerprint, device_name, user_agent, ip_address, is_trusted, last_seen_at, created_at"

func scanDevice(row rowScanner) (model.TrustedDevice, error) {
	var (
		d                 model.TrustedDevice
		lastSeen, created int64
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.DeviceName, &d.UserAgent, &d.IPAddress,
		&d.IsTrusted, &lastSeen, &created); err != nil {
		return model.TrustedDevice{}, err
	}
	d.LastSeenAt = database.FromMillis(lastSeen)
	d.CreatedAt = database.FromMillis(created)
	return d, nil
}

// GetByFingerprint returns the device a user has under fingerprint.
func (r *DeviceRepo) GetByFingerprint(ctx context.Context, userID uint64, fingerprint string) (model.TrustedDevice, error) {
	d, err := scanDevice(r.DB.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM trusted_devices WHERE user_id=? AND fingerprint=? LIMIT 1",
		userID, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrustedDevice{}, ErrNotFound
	}
	return d, err
}

// GetByID returns a device only if it belongs to userID.
func (r *DeviceRepo) GetByID(ctx context.Context, userID, deviceID uint64) (model.TrustedDevice, error) {
	d, err := scanDevice(r.DB.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM trusted_devices WHERE id=? AND user_id=? LIMIT 1",
		deviceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrustedDevice{}, ErrNotFound
	}
	return d, err
}

// List returns a user's devices, most recently seen first.
func (r *DeviceRepo) List(ctx context.Context, userID uint64) ([]model.TrustedDevice, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM trusted_devices WHERE user_id=? ORDER BY last_seen_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TrustedFingerprints returns the set of fingerprints the user trusts.
func (r *DeviceRepo) TrustedFingerprints(ctx context.Context, userID uint64) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT fingerprint FROM trusted_devices WHERE user_id=? AND is_trusted=?", userID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = true
	}
	return out, rows.Err()
}

// Insert adds a newly seen device. A concurrent first sight surfaces as
// ErrConflict.
func (r *DeviceRepo) Insert(ctx context.Context, d *model.TrustedDevice) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO trusted_devices (user_id, fingerprint, device_name, user_agent, ip_address, is_trusted, last_seen_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		d.UserID, d.Fingerprint, d.DeviceName, d.UserAgent, d.IPAddress, d.IsTrusted,
		database.Millis(d.LastSeenAt), database.Millis(d.CreatedAt))
	if database.IsDuplicateKey(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	return nil
}

// Touch records a repeat sighting. Trust is only ever raised here, never
// lowered; revocation goes through SetTrusted.
func (r *DeviceRepo) Touch(ctx context.Context, id uint64, ip string, trust bool, now time.Time) error {
	q := "UPDATE trusted_devices SET last_seen_at=?, ip_address=? WHERE id=?"
	args := []any{database.Millis(now), ip, id}
	if trust {
		q = "UPDATE trusted_devices SET last_seen_at=?, ip_address=?, is_trusted=? WHERE id=?"
		args = []any{database.Millis(now), ip, true, id}
	}
	_, err := r.DB.ExecContext(ctx, q, args...)
	return err
}

// SetTrusted sets the trust flag on a device the user owns.
func (r *DeviceRepo) SetTrusted(ctx context.Context, userID, deviceID uint64, trusted bool) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE trusted_devices SET is_trusted=? WHERE id=? AND user_id=?", trusted, deviceID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a device the user owns.
func (r *DeviceRepo) Delete(ctx context.Context, userID, deviceID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM trusted_devices WHERE id=? AND user_id=?", deviceID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
