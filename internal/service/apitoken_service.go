package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/utils"
)

// APITokenPrefix marks opaque API tokens so they are never confused with
// JWTs or session cookies.
const APITokenPrefix = "ag_"

const apiTokenBytes = 32

// CreateTokenInput describes a token to issue. ExpiresInDays <= 0 means the
// token never expires.
type CreateTokenInput struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expiresInDays"`
}

// IssuedToken carries the raw token. It is the only time the raw value is
// ever available.
type IssuedToken struct {
	ID        uint64     `json:"id"`
	Name      string     `json:"name"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Scopes    []string   `json:"scopes"`
}

// VerifiedToken is the identity behind a valid API token.
type VerifiedToken struct {
	User    model.User
	TokenID uint64
	Scopes  []string
}

// APITokenService issues, verifies and revokes opaque API tokens.
type APITokenService struct {
	tokens *repository.TokenRepo
	users  *repository.UserRepo
	audit  *AuditService
	log    zerolog.Logger

	Now func() time.Time
}

func NewAPITokenService(db *sql.DB, audit *AuditService, log zerolog.Logger) *APITokenService {
	return &APITokenService{
		tokens: repository.NewTokenRepo(db),
		users:  repository.NewUserRepo(db),
		audit:  audit,
		log:    log,
		Now:    utcNow,
	}
}

// Create issues a token for userID. Only the sha256 of the raw token is
// stored.
func (s *APITokenService) Create(ctx context.Context, userID uint64, in CreateTokenInput, meta RequestMeta) (IssuedToken, error) {
	scopes := model.Scopes(in.Scopes)
	if err := scopes.Validate(); err != nil {
		return IssuedToken{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "API token"
	}
	secret, err := utils.GenerateToken(apiTokenBytes)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate api token: %w", err)
	}
	raw := APITokenPrefix + secret
	now := s.Now().UTC()

	t := model.APIToken{
		UserID:    userID,
		TokenHash: utils.HashToken(raw),
		Name:      truncate(name, 255),
		Scopes:    scopes,
		ExpiresAt: utils.ExpiryAfterDays(now, in.ExpiresInDays),
		CreatedAt: now,
	}
	if _, err := s.tokens.CreateAPIToken(ctx, &t); err != nil {
		return IssuedToken{}, fmt.Errorf("store api token: %w", err)
	}
	s.log.Info().Uint64("user_id", userID).Uint64("token_id", t.ID).Msg("api token created")
	if _, err := s.audit.Log(ctx, Event{
		UserID:   &userID,
		Action:   model.ActionAPITokenCreated,
		Resource: "api_token",
		Details:  model.Details{"tokenId": fmt.Sprint(t.ID), "name": t.Name},
		Meta:     meta,
		Success:  true,
	}); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{ID: t.ID, Name: t.Name, Token: raw, ExpiresAt: t.ExpiresAt, Scopes: []string(t.Scopes)}, nil
}

// Verify resolves a raw token to its owner. Unknown, expired and orphaned
// tokens all yield (nil, nil); only store faults return an error.
func (s *APITokenService) Verify(ctx context.Context, raw string) (*VerifiedToken, error) {
	if !strings.HasPrefix(raw, APITokenPrefix) {
		return nil, nil
	}
	t, err := s.tokens.GetAPITokenByHash(ctx, utils.HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load api token: %w", err)
	}
	now := s.Now().UTC()
	if utils.IsExpired(t.ExpiresAt, now) {
		return nil, nil
	}
	u, err := s.users.GetByID(ctx, t.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token owner: %w", err)
	}
	if err := s.tokens.TouchAPIToken(ctx, t.ID, now); err != nil {
		return nil, fmt.Errorf("touch api token: %w", err)
	}
	return &VerifiedToken{User: u, TokenID: t.ID, Scopes: []string(t.Scopes)}, nil
}

// Revoke deletes a token only if it belongs to userID.
func (s *APITokenService) Revoke(ctx context.Context, userID, tokenID uint64, meta RequestMeta) (bool, error) {
	ok, err := s.tokens.DeleteAPIToken(ctx, userID, tokenID)
	if err != nil {
		return false, fmt.Errorf("delete api token: %w", err)
	}
	if !ok {
		return false, nil
	}
	_, err = s.audit.Log(ctx, Event{
		UserID:   &userID,
		Action:   model.ActionAPITokenRevoked,
		Resource: "api_token",
		Details:  model.Details{"tokenId": fmt.Sprint(tokenID)},
		Meta:     meta,
		Success:  true,
	})
	return true, err
}

// List returns a user's tokens without any secret material.
func (s *APITokenService) List(ctx context.Context, userID uint64) ([]model.APIToken, error) {
	out, err := s.tokens.ListAPITokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return out, nil
}

// HasScope reports whether granted satisfies required. A wildcard scope
// satisfies anything; otherwise the scope must be present verbatim.
func HasScope(granted []string, required string) bool {
	for _, g := range granted {
		if g == model.ScopeAll || g == model.ScopeAdmin || g == required {
			return true
		}
	}
	return false
}
