package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/model"
)

func TestFromAuditLog(t *testing.T) {
	uid := uint64(7)
	ev := FromAuditLog(model.SecurityAuditLog{
		ID:        12,
		UserID:    &uid,
		Action:    model.ActionLogin,
		Details:   model.Details{"reason": "ok"},
		Success:   true,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"audit_id":12,"user_id":7,"action":"login","details":{"reason":"ok"},"success":true,"created_at":"2025-03-01T12:00:00Z"}`, string(b))
}

func TestFormatLine(t *testing.T) {
	uid := uint64(3)
	tests := []struct {
		name string
		ev   SecurityEvent
		want string
	}{
		{
			name: "anonymous denial",
			ev: SecurityEvent{
				AuditID: 1, Action: model.ActionAccessDenied, Resource: "/v1/admin/audit", IPAddress: "1.2.3.4",
				Details: map[string]string{"tier": "critical", "reason": "missing_credential"}, CreatedAt: "2025-03-01T12:00:00Z",
			},
			want: `[2025-03-01T12:00:00Z] access_denied FAILED | audit_id=1 | user_id=null | resource="/v1/admin/audit" | ip=1.2.3.4 | fingerprint= | details={reason="missing_credential" tier="critical"}` + "\n",
		},
		{
			name: "user success",
			ev:   SecurityEvent{AuditID: 2, UserID: &uid, Action: model.ActionLogin, Success: true, DeviceFingerprint: "abc", CreatedAt: "t"},
			want: `[t] login ok | audit_id=2 | user_id=3 | resource="" | ip= | fingerprint=abc | details={}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatLine(tt.ev))
		})
	}
}

func TestAppendEvent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	for _, action := range []string{model.ActionLogin, model.ActionLogout} {
		body, err := json.Marshal(SecurityEvent{Action: action, Success: true, CreatedAt: "t"})
		require.NoError(t, err)
		require.NoError(t, AppendEvent(dir, body))
	}

	b, err := os.ReadFile(filepath.Join(dir, SecurityLogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[t] login ok"))
	assert.True(t, strings.HasPrefix(lines[1], "[t] logout ok"))

	assert.Error(t, AppendEvent(dir, []byte("{")))
	assert.Error(t, AppendEvent(dir, []byte(`{"success":true}`)))
}
