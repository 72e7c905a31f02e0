package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/utils"
)

const sessionTokenBytes = 32

// SessionService manages cookie-backed logins. The cookie carries a random
// secret; only its hash is stored.
type SessionService struct {
	tokens *repository.TokenRepo
	users  *repository.UserRepo
	ttl    time.Duration

	Now func() time.Time
}

func NewSessionService(db *sql.DB, ttl time.Duration) *SessionService {
	return &SessionService{
		tokens: repository.NewTokenRepo(db),
		users:  repository.NewUserRepo(db),
		ttl:    ttl,
		Now:    utcNow,
	}
}

// Create opens a session for userID and returns the raw cookie value.
func (s *SessionService) Create(ctx context.Context, userID uint64, meta RequestMeta) (string, model.Session, error) {
	raw, err := utils.GenerateToken(sessionTokenBytes)
	if err != nil {
		return "", model.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.Now().UTC()
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: utils.HashToken(raw),
		IPAddress: meta.IP,
		UserAgent: truncate(meta.UserAgent, 512),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.tokens.StoreSession(ctx, sess); err != nil {
		return "", model.Session{}, fmt.Errorf("store session: %w", err)
	}
	return raw, sess, nil
}

// Verify resolves a cookie value to its user. Unknown and expired sessions
// yield (nil, nil); expired rows are deleted on sight.
func (s *SessionService) Verify(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, nil
	}
	hash := utils.HashToken(raw)
	sess, err := s.tokens.GetSessionByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !s.Now().Before(sess.ExpiresAt) {
		if err := s.tokens.RevokeSessionByHash(ctx, hash); err != nil {
			return nil, fmt.Errorf("drop expired session: %w", err)
		}
		return nil, nil
	}
	u, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session owner: %w", err)
	}
	return &u, nil
}

// Revoke ends the session identified by the raw cookie value.
func (s *SessionService) Revoke(ctx context.Context, raw string) error {
	if err := s.tokens.RevokeSessionByHash(ctx, utils.HashToken(raw)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll ends every session of a user.
func (s *SessionService) RevokeAll(ctx context.Context, userID uint64) error {
	if err := s.tokens.RevokeAllSessionsForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
