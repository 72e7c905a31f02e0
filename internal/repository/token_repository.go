package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
)

// TokenRepo persists API tokens and cookie sessions. Both store only a
// sha256 of the secret in a single 'token_hash' column.
type TokenRepo struct{ DB database.Querier }

func NewTokenRepo(db database.Querier) *TokenRepo { return &TokenRepo{DB: db} }

// CreateAPIToken inserts a token row and returns its ID.
func (r *TokenRepo) CreateAPIToken(ctx context.Context, t *model.APIToken) (uint64, error) {
	scopes, err := model.EncodeScopes(t.Scopes)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO api_tokens (user_id, token_hash, name, scopes, expires_at, created_at) VALUES (?,?,?,?,?,?)",
		t.UserID, t.TokenHash, t.Name, scopes, database.MillisOrNil(t.ExpiresAt), database.Millis(t.CreatedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = uint64(id)
	return t.ID, nil
}

const apiTokenColumns = "id, user_id, token_hash, name, scopes, expires_at, last_used_at, created_at"

// GetAPITokenByHash returns the token row matching tokenHash, expired or not.
func (r *TokenRepo) GetAPITokenByHash(ctx context.Context, tokenHash string) (model.APIToken, error) {
	t, err := scanAPIToken(r.DB.QueryRowContext(ctx,
		"SELECT "+apiTokenColumns+" FROM api_tokens WHERE token_hash=? LIMIT 1", tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return model.APIToken{}, ErrNotFound
	}
	return t, err
}

// ListAPITokens returns a user's tokens, newest first.
func (r *TokenRepo) ListAPITokens(ctx context.Context, userID uint64) ([]model.APIToken, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+apiTokenColumns+" FROM api_tokens WHERE user_id=? ORDER BY id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.APIToken
	for rows.Next() {
		t, err := scanAPIToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanAPIToken(row rowScanner) (model.APIToken, error) {
	var (
		t                 model.APIToken
		scopes            string
		expires, lastUsed sql.NullInt64
		created           int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Name, &scopes, &expires, &lastUsed, &created); err != nil {
		return model.APIToken{}, err
	}
	s, err := model.DecodeScopes(scopes)
	if err != nil {
		return model.APIToken{}, fmt.Errorf("api token %d: %w", t.ID, err)
	}
	t.Scopes = s
	t.ExpiresAt = database.NullMillis(expires)
	t.LastUsedAt = database.NullMillis(lastUsed)
	t.CreatedAt = database.FromMillis(created)
	return t, nil
}

// TouchAPIToken records a successful use.
func (r *TokenRepo) TouchAPIToken(ctx context.Context, id uint64, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE api_tokens SET last_used_at=? WHERE id=?", database.Millis(now), id)
	return err
}

// DeleteAPIToken removes a token only when it belongs to userID.
func (r *TokenRepo) DeleteAPIToken(ctx context.Context, userID, tokenID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM api_tokens WHERE id=? AND user_id=?", tokenID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StoreSession inserts a session row.
func (r *TokenRepo) StoreSession(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, expires_at, created_at) VALUES (?,?,?,?,?,?,?)",
		s.ID, s.UserID, s.TokenHash, s.IPAddress, s.UserAgent, database.Millis(s.ExpiresAt), database.Millis(s.CreatedAt))
	return err
}

// GetSessionByHash returns the session for a cookie hash, expired or not.
func (r *TokenRepo) GetSessionByHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var (
		s                  model.Session
		expires, createdAt int64
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, ip_address, user_agent, expires_at, created_at FROM sessions WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent, &expires, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	s.ExpiresAt = database.FromMillis(expires)
	s.CreatedAt = database.FromMillis(createdAt)
	return s, nil
}

// RevokeSessionByHash deletes one session.
func (r *TokenRepo) RevokeSessionByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash=?", tokenHash)
	return err
}

// RevokeAllSessionsForUser logs a user out everywhere.
func (r *TokenRepo) RevokeAllSessionsForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE user_id=?", userID)
	return err
}
