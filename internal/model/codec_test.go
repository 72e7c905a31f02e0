package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopesValidate(t *testing.T) {
	tests := []struct {
		name    string
		scopes  Scopes
		wantErr bool
	}{
		{"single", Scopes{ScopeProfileRead}, false},
		{"wildcard", Scopes{ScopeAll}, false},
		{"mixed", Scopes{ScopeTokensRead, ScopeAdminAudit}, false},
		{"empty", Scopes{}, true},
		{"nil", nil, true},
		{"unknown", Scopes{"profile:delete"}, true},
		{"duplicate", Scopes{ScopeTokensRead, ScopeTokensRead}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scopes.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScope)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEncodeScopesIsSorted(t *testing.T) {
	a, err := EncodeScopes(Scopes{ScopeTokensWrite, ScopeProfileRead})
	require.NoError(t, err)
	b, err := EncodeScopes(Scopes{ScopeProfileRead, ScopeTokensWrite})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `["profile:read","tokens:write"]`, a)
}

func TestDecodeScopes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Scopes
		wantErr bool
	}{
		{"malformed", `not json`, nil, true},
		{"wildcard", `["all"]`, Scopes{ScopeAll}, false},
		{"retired scope dropped", `["root","all"]`, Scopes{ScopeAll}, false},
		{"only retired scopes", `["reports:export"]`, Scopes{}, false},
		{"duplicates collapsed", `["tokens:read","tokens:read"]`, Scopes{ScopeTokensRead}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeScopes(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetailsCodec(t *testing.T) {
	raw, err := EncodeDetails(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)

	raw, err = EncodeDetails(Details{"tier": "high", "reason": "missing_credential"})
	require.NoError(t, err)
	d, err := DecodeDetails(raw)
	require.NoError(t, err)
	assert.Equal(t, Details{"tier": "high", "reason": "missing_credential"}, d)

	_, err = EncodeDetails(Details{"bad key": "x"})
	assert.ErrorIs(t, err, ErrInvalidDetails)

	_, err = DecodeDetails(`{"n": 1}`)
	assert.ErrorIs(t, err, ErrInvalidDetails)

	d, err = DecodeDetails("")
	require.NoError(t, err)
	assert.Empty(t, d)
}
