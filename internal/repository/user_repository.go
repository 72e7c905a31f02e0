package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

const userColumns = `id, email, password_hash, name, role, email_verified,
	email_verification_token, email_verification_expires,
	password_reset_token, password_reset_expires,
	last_login_at, created_by, created_at, updated_at`

// UserRepo persists users and their OAuth links.
type UserRepo struct{ DB database.Querier }

func NewUserRepo(db database.Querier) *UserRepo { return &UserRepo{DB: db} }

// WithTx returns a repo bound to tx.
func (r *UserRepo) WithTx(tx *sql.Tx) *UserRepo { return &UserRepo{DB: tx} }

// NormalizeEmail lower-cases and trims an address the way it is stored.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts u and returns its ID.
func (r *UserRepo) Create(ctx context.Context, u *model.User, now time.Time) (uint64, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, name, role, email_verified, created_by, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		u.Email, u.PasswordHash, u.Name, u.Role, u.EmailVerified, u.CreatedBy,
		database.Millis(now), database.Millis(now))
	if err != nil {
		if database.IsDuplicateKey(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = uint64(id)
	u.CreatedAt, u.UpdatedAt = now.UTC(), now.UTC()
	return u.ID, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// GetByPasswordResetToken fetches the user holding a reset token hash.
func (r *UserRepo) GetByPasswordResetToken(ctx context.Context, tokenHash string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE password_reset_token=? LIMIT 1", tokenHash)
}

// GetByVerificationToken fetches the user holding a verification token hash.
func (r *UserRepo) GetByVerificationToken(ctx context.Context, tokenHash string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email_verification_token=? LIMIT 1", tokenHash)
}

func (r *UserRepo) getOne(ctx context.Context, query string, args ...any) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                              model.User
		pwHash, verifyTok, resetTok    sql.NullString
		verifyExp, resetExp, lastLogin sql.NullInt64
		createdBy                      sql.NullInt64
		createdAt, updatedAt           int64
	)
	err := row.Scan(&u.ID, &u.Email, &pwHash, &u.Name, &u.Role, &u.EmailVerified,
		&verifyTok, &verifyExp, &resetTok, &resetExp,
		&lastLogin, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.PasswordHash = nullString(pwHash)
	u.EmailVerificationToken = nullString(verifyTok)
	u.EmailVerificationExpires = database.NullMillis(verifyExp)
	u.PasswordResetToken = nullString(resetTok)
	u.PasswordResetExpires = database.NullMillis(resetExp)
	u.LastLoginAt = database.NullMillis(lastLogin)
	if createdBy.Valid {
		v := uint64(createdBy.Int64)
		u.CreatedBy = &v
	}
	u.CreatedAt = database.FromMillis(createdAt)
	u.UpdatedAt = database.FromMillis(updatedAt)
	return u, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET last_login_at=?, updated_at=? WHERE id=?",
		database.Millis(now), database.Millis(now), id)
	return err
}

// SetPassword replaces the password hash and clears any pending reset token.
func (r *UserRepo) SetPassword(ctx context.Context, id uint64, hash string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE users SET password_hash=?, password_reset_token=NULL, password_reset_expires=NULL, updated_at=?
		 WHERE id=?`,
		hash, database.Millis(now), id)
	return err
}

// SetPasswordResetToken stores the hash of a reset token and its expiry.
func (r *UserRepo) SetPasswordResetToken(ctx context.Context, id uint64, tokenHash string, exp, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_reset_token=?, password_reset_expires=?, updated_at=? WHERE id=?",
		tokenHash, database.Millis(exp), database.Millis(now), id)
	return err
}

// SetEmailVerificationToken stores the hash of a verification token and its expiry.
func (r *UserRepo) SetEmailVerificationToken(ctx context.Context, id uint64, tokenHash string, exp, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verification_token=?, email_verification_expires=?, updated_at=? WHERE id=?",
		tokenHash, database.Millis(exp), database.Millis(now), id)
	return err
}

// MarkEmailVerified flips the verified flag and clears the token.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id uint64, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE users SET email_verified=?, email_verification_token=NULL, email_verification_expires=NULL, updated_at=?
		 WHERE id=?`,
		true, database.Millis(now), id)
	return err
}

// Delete removes the user row. Callers remove owned rows in the same tx.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkOAuth attaches an external identity to a user.
func (r *UserRepo) LinkOAuth(ctx context.Context, userID uint64, provider, providerAccountID string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO oauth_accounts (user_id, provider, provider_account_id, created_at) VALUES (?,?,?,?)",
		userID, provider, providerAccountID, database.Millis(now))
	if database.IsDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

// ListOAuth returns every OAuth link of a user.
func (r *UserRepo) ListOAuth(ctx context.Context, userID uint64) ([]model.OAuthAccount, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, user_id, provider, provider_account_id, created_at FROM oauth_accounts WHERE user_id=? ORDER BY id",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OAuthAccount
	for rows.Next() {
		var (
			a  model.OAuthAccount
			ts int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &ts); err != nil {
			return nil, err
		}
		a.CreatedAt = database.FromMillis(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteOwned removes every row owned by a user except audit events, which
// are append-only.
func (r *UserRepo) DeleteOwned(ctx context.Context, userID uint64) error {
	for _, q := range []string{
		"DELETE FROM oauth_accounts WHERE user_id=?",
		"DELETE FROM sessions WHERE user_id=?",
		"DELETE FROM api_tokens WHERE user_id=?",
		"DELETE FROM trusted_devices WHERE user_id=?",
		"DELETE FROM user_permissions WHERE user_id=?",
	} {
		if _, err := r.DB.ExecContext(ctx, q, userID); err != nil {
			return err
		}
	}
	return nil
}
