package service

import (
	"net/http"
	"time"

	"github.com/iliyamo/authguard/internal/utils"
)

// RequestMeta is the slice of an inbound request that audit events and
// device tracking record.
type RequestMeta struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// MetaFromRequest extracts RequestMeta from r. A nil request yields the zero
// value.
func MetaFromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		IP:             utils.ClientIP(r),
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

// Fingerprint returns the device fingerprint of the request, or "" when no
// identifying header was sent.
func (m RequestMeta) Fingerprint() string {
	if m.UserAgent == "" && m.AcceptLanguage == "" && m.AcceptEncoding == "" {
		return ""
	}
	return utils.GenerateDeviceFingerprint(m.UserAgent, m.AcceptLanguage, m.AcceptEncoding)
}

// UserRef returns a pointer suitable for SecurityAuditLog.UserID.
func UserRef(id uint64) *uint64 { return &id }

func utcNow() time.Time { return time.Now().UTC() }
