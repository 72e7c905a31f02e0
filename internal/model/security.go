package model

import "time"

// APIToken models an entry in the `api_tokens` table. The plain token is
// handed to the caller once at creation; only its SHA-256 hash is stored.
type APIToken struct {
	ID         uint64     // api_tokens.id
	UserID     uint64     // api_tokens.user_id
	TokenHash  string     // api_tokens.token_hash
	Name       string     // api_tokens.name
	Scopes     Scopes     // api_tokens.scopes (JSON array)
	ExpiresAt  *time.Time // api_tokens.expires_at (nil = never)
	LastUsedAt *time.Time // api_tokens.last_used_at
	CreatedAt  time.Time  // api_tokens.created_at
}

// RateLimitRecord is the persisted counter for one (identifier, endpoint)
// key. A record whose window has elapsed counts as zero attempts.
type RateLimitRecord struct {
	Identifier  string
	Endpoint    string
	Attempts    int
	WindowStart time.Time
}

// TrustedDevice is a device seen for a user, identified by its header
// fingerprint.
type TrustedDevice struct {
	ID          uint64
	UserID      uint64
	Fingerprint string
	DeviceName  string
	UserAgent   string
	IPAddress   string
	IsTrusted   bool
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

// SecurityAuditLog is one append-only audit event. UserID is nil for events
// that happen before an identity is known.
type SecurityAuditLog struct {
	ID                uint64
	UserID            *uint64
	Action            string
	Resource          string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Details           Details
	Success           bool
	CreatedAt         time.Time
}

// Audit actions written by this service.
const (
	ActionLogin             = "login"
	ActionLogout            = "logout"
	ActionRegister          = "register"
	ActionPasswordReset     = "password_reset"
	ActionPasswordResetReq  = "password_reset_requested"
	ActionEmailVerified     = "email_verified"
	ActionDeviceRegistered  = "device_registered"
	ActionDeviceTrusted     = "device_trusted"
	ActionDeviceTrustRevoke = "device_trust_revoked"
	ActionDeviceRemoved     = "device_removed"
	ActionAPITokenCreated   = "api_token_created"
	ActionAPITokenRevoked   = "api_token_revoked"
	ActionAccessDenied      = "access_denied"
	ActionAccessGranted     = "access_granted"
	ActionRateLimited       = "rate_limited"
	ActionPermissionChanged = "permission_changed"
	ActionUserCreated       = "user_created"
	ActionUserDeleted       = "user_deleted"
)

// Permission is a named capability on a resource.
type Permission struct {
	ID          uint64
	Name        string
	Resource    string
	Action      string
	Description string
}

// UserPermission is a per-user override that wins over role mappings.
type UserPermission struct {
	UserID       uint64
	PermissionID uint64
	Granted      bool
	CreatedAt    time.Time
}
