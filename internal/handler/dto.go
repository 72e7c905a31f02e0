package handler

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/authguard/internal/model"
)

// Response shapes. Hashes and one-time tokens never appear here.

type userPart struct {
	ID            uint64     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toUserPart(u model.User) userPart {
	return userPart{
		ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role,
		EmailVerified: u.EmailVerified, LastLoginAt: u.LastLoginAt, CreatedAt: u.CreatedAt,
	}
}

type tokenPart struct {
	Token   string     `json:"token"`
	Expires *time.Time `json:"expires"`
}

type apiTokenPart struct {
	ID         uint64     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toAPITokenPart(t model.APIToken) apiTokenPart {
	return apiTokenPart{
		ID: t.ID, Name: t.Name, Scopes: []string(t.Scopes),
		ExpiresAt: t.ExpiresAt, LastUsedAt: t.LastUsedAt, CreatedAt: t.CreatedAt,
	}
}

type devicePart struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	IPAddress   string    `json:"ipAddress"`
	IsTrusted   bool      `json:"isTrusted"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toDevicePart(d model.TrustedDevice) devicePart {
	return devicePart{
		ID: d.ID, Name: d.DeviceName, Fingerprint: d.Fingerprint, IPAddress: d.IPAddress,
		IsTrusted: d.IsTrusted, LastSeenAt: d.LastSeenAt, CreatedAt: d.CreatedAt,
	}
}

type auditPart struct {
	ID                uint64            `json:"id"`
	UserID            *uint64           `json:"userId"`
	Action            string            `json:"action"`
	Resource          string            `json:"resource"`
	IPAddress         string            `json:"ipAddress"`
	UserAgent         string            `json:"userAgent"`
	DeviceFingerprint string            `json:"deviceFingerprint"`
	Details           map[string]string `json:"details"`
	Success           bool              `json:"success"`
	CreatedAt         time.Time         `json:"createdAt"`
}

func toAuditParts(in []model.SecurityAuditLog) []auditPart {
	out := make([]auditPart, 0, len(in))
	for _, e := range in {
		out = append(out, auditPart{
			ID: e.ID, UserID: e.UserID, Action: e.Action, Resource: e.Resource,
			IPAddress: e.IPAddress, UserAgent: e.UserAgent, DeviceFingerprint: e.DeviceFingerprint,
			Details: e.Details, Success: e.Success, CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryLimit reads ?limit=, falling back to def.
func queryLimit(c echo.Context, def int) int {
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		return n
	}
	return def
}
