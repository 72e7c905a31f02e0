package middleware

// identity.go holds the request identity the security tiers resolve and the
// helpers handlers use to read it back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/service"
)

// How the caller proved its identity.
const (
	MethodSession  = "session"
	MethodJWT      = "jwt"
	MethodAPIToken = "api_token"
)

const identityKey = "identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	User    model.User
	Method  string
	Scopes  []string
	TokenID string // API token ID or JWT tokenId; empty for sessions
}

// UserID is a shortcut for Identity.User.ID.
func (i *Identity) UserID() uint64 { return i.User.ID }

// HasScope reports whether the credential carries scope.
func (i *Identity) HasScope(scope string) bool { return service.HasScope(i.Scopes, scope) }

// IdentityFrom returns the identity set by a security tier.
func IdentityFrom(c echo.Context) (*Identity, bool) {
	id, ok := c.Get(identityKey).(*Identity)
	return id, ok && id != nil
}

func setIdentity(c echo.Context, id *Identity) { c.Set(identityKey, id) }

// userRef returns the caller's ID for audit events, or nil before
// authentication.
func userRef(c echo.Context) *uint64 {
	if id, ok := IdentityFrom(c); ok {
		return service.UserRef(id.UserID())
	}
	return nil
}

// userKey returns a stable key for the caller: its user ID, or "anon".
func userKey(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.UserID(), 10)
	}
	return "anon"
}
