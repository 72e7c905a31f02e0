// Package queue defines the audit event payload exchanged over the message
// broker and the consumer that mirrors it to a log file.
package queue

import (
	"time"

	"github.com/iliyamo/authguard/internal/model"
)

// SecurityEvent is published for every stored audit event. It carries
// enough for downstream consumers to log or alert without querying the
// primary database.
type SecurityEvent struct {
	AuditID           uint64            `json:"audit_id"`
	UserID            *uint64           `json:"user_id"`
	Action            string            `json:"action"`
	Resource          string            `json:"resource,omitempty"`
	IPAddress         string            `json:"ip_address,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	DeviceFingerprint string            `json:"device_fingerprint,omitempty"`
	Details           map[string]string `json:"details,omitempty"`
	Success           bool              `json:"success"`
	CreatedAt         string            `json:"created_at"`
}

// FromAuditLog converts a stored audit row into its wire form.
func FromAuditLog(e model.SecurityAuditLog) SecurityEvent {
	return SecurityEvent{
		AuditID:           e.ID,
		UserID:            e.UserID,
		Action:            e.Action,
		Resource:          e.Resource,
		IPAddress:         e.IPAddress,
		UserAgent:         e.UserAgent,
		DeviceFingerprint: e.DeviceFingerprint,
		Details:           e.Details,
		Success:           e.Success,
		CreatedAt:         e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
