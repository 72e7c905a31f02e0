package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Scope is a capability string granted to an API token or JWT.
type Scope = string

// Wildcard scopes satisfy every requirement.
const (
	ScopeAll   Scope = "all"
	ScopeAdmin Scope = "admin"
)

// Named scopes understood by the HTTP surface.
const (
	ScopeProfileRead   Scope = "profile:read"
	ScopeProfileWrite  Scope = "profile:write"
	ScopeTokensRead    Scope = "tokens:read"
	ScopeTokensWrite   Scope = "tokens:write"
	ScopeDevicesRead   Scope = "devices:read"
	ScopeDevicesWrite  Scope = "devices:write"
	ScopeSecurityRead  Scope = "security:read"
	ScopeAdminAudit    Scope = "admin:audit"
	ScopeAdminPermsMgr Scope = "admin:permissions"
)

var knownScopes = map[Scope]bool{
	ScopeAll: true, ScopeAdmin: true,
	ScopeProfileRead: true, ScopeProfileWrite: true,
	ScopeTokensRead: true, ScopeTokensWrite: true,
	ScopeDevicesRead: true, ScopeDevicesWrite: true,
	ScopeSecurityRead: true, ScopeAdminAudit: true, ScopeAdminPermsMgr: true,
}

// ErrInvalidScope is returned for scope names outside the catalog.
var ErrInvalidScope = errors.New("invalid scope")

// IsKnownScope reports whether s is part of the scope catalog.
func IsKnownScope(s Scope) bool { return knownScopes[s] }

// Scopes is the typed form of the api_tokens.scopes JSON column.
type Scopes []Scope

// Validate rejects empty lists, unknown names and duplicates.
func (s Scopes) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: at least one scope required", ErrInvalidScope)
	}
	seen := make(map[Scope]bool, len(s))
	for _, sc := range s {
		if !knownScopes[sc] {
			return fmt.Errorf("%w: %q", ErrInvalidScope, sc)
		}
		if seen[sc] {
			return fmt.Errorf("%w: duplicate %q", ErrInvalidScope, sc)
		}
		seen[sc] = true
	}
	return nil
}

// EncodeScopes validates and serializes scopes for storage. The output is
// sorted so equal sets store identically.
func EncodeScopes(s Scopes) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeScopes parses a stored scope column. Names no longer in the
// catalog are dropped so a retired scope grants nothing instead of failing
// the whole credential. Only malformed JSON is an error.
func DecodeScopes(raw string) (Scopes, error) {
	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	s := make(Scopes, 0, len(stored))
	seen := make(map[Scope]bool, len(stored))
	for _, sc := range stored {
		if !knownScopes[sc] || seen[sc] {
			continue
		}
		seen[sc] = true
		s = append(s, sc)
	}
	return s, nil
}

// Details is the typed form of the security_audit_logs.details column: a
// flat object of string values.
type Details map[string]string

var detailKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

// ErrInvalidDetails is returned when details do not match the expected shape.
var ErrInvalidDetails = errors.New("invalid audit details")

// EncodeDetails validates keys and serializes details. A nil map encodes as
// an empty object.
func EncodeDetails(d Details) (string, error) {
	if d == nil {
		return "{}", nil
	}
	for k := range d {
		if !detailKey.MatchString(k) {
			return "", fmt.Errorf("%w: key %q", ErrInvalidDetails, k)
		}
	}
	b, err := json.Marshal(map[string]string(d))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDetails parses a stored details column.
func DecodeDetails(raw string) (Details, error) {
	if raw == "" {
		return Details{}, nil
	}
	d := Details{}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	return d, nil
}
