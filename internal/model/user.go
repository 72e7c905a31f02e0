package model

import "time"

// Roles a user row may carry.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents an account as stored in the `users` table. The json tags
// are omitted on purpose; handlers define their own response shapes so that
// hashes and one-time tokens never leave the process.
//
// Fields:
//
//	PasswordHash            – bcrypt hash; nil for OAuth-only accounts.
//	EmailVerificationToken  – sha256 of the pending verification token.
//	PasswordResetToken      – sha256 of the pending reset token.
//	CreatedBy               – admin who provisioned the account, if any.
type User struct {
	ID                       uint64     // users.id
	Email                    string     // users.email (unique, lower-cased)
	PasswordHash             *string    // users.password_hash (nullable)
	Name                     string     // users.name
	Role                     string     // users.role (admin | user)
	EmailVerified            bool       // users.email_verified
	EmailVerificationToken   *string    // users.email_verification_token
	EmailVerificationExpires *time.Time // users.email_verification_expires
	PasswordResetToken       *string    // users.password_reset_token
	PasswordResetExpires     *time.Time // users.password_reset_expires
	LastLoginAt              *time.Time // users.last_login_at
	CreatedBy                *uint64    // users.created_by (self reference)
	CreatedAt                time.Time  // users.created_at
	UpdatedAt                time.Time  // users.updated_at
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool { return u.PasswordHash != nil && *u.PasswordHash != "" }

// OAuthAccount links a user to an external identity. The pair
// (Provider, ProviderAccountID) is unique.
type OAuthAccount struct {
	ID                uint64    // oauth_accounts.id
	UserID            uint64    // oauth_accounts.user_id
	Provider          string    // oauth_accounts.provider (e.g. github, google)
	ProviderAccountID string    // oauth_accounts.provider_account_id
	CreatedAt         time.Time // oauth_accounts.created_at
}

// Session is a cookie-backed login. Only the sha256 of the cookie value is
// stored.
type Session struct {
	ID        string    // sessions.id (uuid)
	UserID    uint64    // sessions.user_id
	TokenHash string    // sessions.token_hash
	IPAddress string    // sessions.ip_address
	UserAgent string    // sessions.user_agent
	ExpiresAt time.Time // sessions.expires_at
	CreatedAt time.Time // sessions.created_at
}
