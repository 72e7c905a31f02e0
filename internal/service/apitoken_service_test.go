package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/utils"
)

func newTokenService(t *testing.T) (*APITokenService, *clock, model.User, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	c := newClock()
	s := NewAPITokenService(db, newAudit(db, c), testLogger())
	s.Now = c.Now
	return s, c, createUser(t, db, "owner@example.com", "password123", model.RoleUser), db
}

func TestAPIToken_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, c, u, db := newTokenService(t)

	issued, err := s.Create(ctx, u.ID, CreateTokenInput{Name: "ci", Scopes: []string{model.ScopeTokensRead}}, testMeta("10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(issued.Token, APITokenPrefix))
	assert.Nil(t, issued.ExpiresAt)
	assert.Equal(t, "ci", issued.Name)

	// only the hash is stored
	list, err := s.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, utils.HashToken(issued.Token), list[0].TokenHash)
	assert.Nil(t, list[0].LastUsedAt)

	c.Advance(time.Minute)
	vt, err := s.Verify(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, vt)
	assert.Equal(t, u.ID, vt.User.ID)
	assert.Equal(t, issued.ID, vt.TokenID)
	assert.Equal(t, []string{model.ScopeTokensRead}, vt.Scopes)

	list, err = s.List(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, list[0].LastUsedAt)
	assert.Equal(t, c.t, *list[0].LastUsedAt)

	// someone else cannot revoke it
	ok, err := s.Revoke(ctx, u.ID+100, issued.ID, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Revoke(ctx, u.ID, issued.ID, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, ok)

	vt, err = s.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, vt)

	ok, err = s.Revoke(ctx, u.ID, issued.ID, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, countActions(t, db, model.ActionAPITokenCreated))
	assert.Equal(t, 1, countActions(t, db, model.ActionAPITokenRevoked))
}

func TestAPIToken_Expiry(t *testing.T) {
	ctx := context.Background()
	s, c, u, _ := newTokenService(t)

	issued, err := s.Create(ctx, u.ID, CreateTokenInput{Scopes: []string{model.ScopeAll}, ExpiresInDays: 1}, RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, issued.ExpiresAt)
	assert.Equal(t, testStart.Add(24*time.Hour), *issued.ExpiresAt)
	assert.Equal(t, "API token", issued.Name)

	c.Advance(23 * time.Hour)
	vt, err := s.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.NotNil(t, vt)

	c.Advance(time.Hour)
	vt, err = s.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, vt)
}

func TestAPIToken_VerifyRejectsUnknown(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTokenService(t)

	for _, raw := range []string{"", "garbage", APITokenPrefix + "unknown", "a.b.c"} {
		vt, err := s.Verify(ctx, raw)
		assert.NoError(t, err, raw)
		assert.Nil(t, vt, raw)
	}
}

func TestAPIToken_VerifyDropsRetiredScopes(t *testing.T) {
	ctx := context.Background()
	s, _, u, db := newTokenService(t)

	tests := []struct {
		name   string
		stored string
		want   []string
	}{
		{"all retired", `["reports:export"]`, []string{}},
		{"mixed", `["reports:export","tokens:read"]`, []string{model.ScopeTokensRead}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, err := s.Create(ctx, u.ID, CreateTokenInput{Name: tt.name, Scopes: []string{model.ScopeTokensRead}}, RequestMeta{})
			require.NoError(t, err)
			_, err = db.ExecContext(ctx, `UPDATE api_tokens SET scopes = ? WHERE id = ?`, tt.stored, issued.ID)
			require.NoError(t, err)

			vt, err := s.Verify(ctx, issued.Token)
			require.NoError(t, err)
			require.NotNil(t, vt)
			assert.Equal(t, tt.want, vt.Scopes)
			assert.False(t, HasScope(vt.Scopes, model.ScopeProfileRead))
		})
	}
}

func TestAPIToken_CreateValidatesScopes(t *testing.T) {
	ctx := context.Background()
	s, _, u, _ := newTokenService(t)

	for _, scopes := range [][]string{nil, {}, {"root"}, {model.ScopeAll, model.ScopeAll}} {
		_, err := s.Create(ctx, u.ID, CreateTokenInput{Scopes: scopes}, RequestMeta{})
		assert.ErrorIs(t, err, ErrInvalidScope)
	}
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"exact", []string{"tokens:read"}, "tokens:read", true},
		{"missing", []string{"tokens:read"}, "tokens:write", false},
		{"all wildcard", []string{"all"}, "admin:audit", true},
		{"admin wildcard", []string{"admin"}, "devices:write", true},
		{"no prefix matching", []string{"tokens"}, "tokens:read", false},
		{"empty", nil, "tokens:read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasScope(tt.granted, tt.required))
		})
	}
}
