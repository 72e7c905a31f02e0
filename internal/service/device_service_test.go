package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/utils"
)

var chromeMeta = RequestMeta{
	IP:             "203.0.113.7",
	UserAgent:      "Mozilla/5.0 Chrome/120",
	AcceptLanguage: "en-US",
	AcceptEncoding: "gzip, br",
}

func TestDeviceService_TrackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := newClock()
	s := NewDeviceService(db, newAudit(db, c), testLogger())
	s.Now = c.Now
	u := createUser(t, db, "dev@example.com", "password123", model.RoleUser)

	first, err := s.Track(ctx, u.ID, chromeMeta, TrackOptions{})
	require.NoError(t, err)
	assert.Equal(t, utils.GenerateDeviceFingerprint(chromeMeta.UserAgent, chromeMeta.AcceptLanguage, chromeMeta.AcceptEncoding), first.Fingerprint)
	assert.Equal(t, chromeMeta.UserAgent, first.DeviceName)
	assert.False(t, first.IsTrusted)

	c.Advance(time.Hour)
	moved := chromeMeta
	moved.IP = "198.51.100.1"
	again, err := s.Track(ctx, u.ID, moved, TrackOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "198.51.100.1", again.IPAddress)
	assert.Equal(t, c.t, again.LastSeenAt)

	devices, err := s.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "198.51.100.1", devices[0].IPAddress)
	assert.Equal(t, 1, countActions(t, db, model.ActionDeviceRegistered))

	// a repeat sighting may raise trust but never lower it
	again, err = s.Track(ctx, u.ID, chromeMeta, TrackOptions{Trust: true})
	require.NoError(t, err)
	assert.True(t, again.IsTrusted)
	again, err = s.Track(ctx, u.ID, chromeMeta, TrackOptions{})
	require.NoError(t, err)
	assert.True(t, again.IsTrusted)
	trusted, err := s.IsTrusted(ctx, u.ID, first.Fingerprint)
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestDeviceService_TrustLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := newClock()
	audit := newAudit(db, c)
	s := NewDeviceService(db, audit, testLogger())
	s.Now = c.Now
	owner := createUser(t, db, "owner@example.com", "password123", model.RoleUser)
	other := createUser(t, db, "other@example.com", "password123", model.RoleUser)

	d, err := s.Track(ctx, owner.ID, chromeMeta, TrackOptions{DeviceName: "Work laptop"})
	require.NoError(t, err)
	assert.Equal(t, "Work laptop", d.DeviceName)

	trusted, err := s.IsTrusted(ctx, owner.ID, "unknown-fingerprint")
	require.NoError(t, err)
	assert.False(t, trusted)

	ok, err := s.Trust(ctx, other.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, ok, "foreign device")

	ok, err = s.Trust(ctx, owner.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, ok)
	// trusting twice still reports the device as found
	ok, err = s.Trust(ctx, owner.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, ok)
	trusted, err = s.IsTrusted(ctx, owner.ID, d.Fingerprint)
	require.NoError(t, err)
	assert.True(t, trusted)

	ok, err = s.RevokeTrust(ctx, owner.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, ok)
	trusted, err = s.IsTrusted(ctx, owner.ID, d.Fingerprint)
	require.NoError(t, err)
	assert.False(t, trusted)

	ok, err = s.Remove(ctx, other.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Remove(ctx, owner.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Remove(ctx, owner.ID, d.ID, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := audit.ListForUser(ctx, owner.ID, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
		assert.Equal(t, d.Fingerprint, e.DeviceFingerprint, e.Action)
	}
	assert.Equal(t, []string{
		model.ActionDeviceRemoved,
		model.ActionDeviceTrustRevoke,
		model.ActionDeviceTrusted,
		model.ActionDeviceTrusted,
		model.ActionDeviceRegistered,
	}, actions)

	otherEvents, err := audit.ListForUser(ctx, other.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, otherEvents)
}

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "Phone", deviceName("  Phone ", "ua"))
	assert.Equal(t, "ua", deviceName("", "ua"))
	assert.Equal(t, "Unknown device", deviceName("", ""))
	assert.Len(t, deviceName("", string(make([]byte, 300))), 255)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"ascii", strings.Repeat("a", 300), 255},
		{"two byte runes", strings.Repeat("é", 200), 254},
		{"three byte runes aligned", strings.Repeat("日", 100), 255},
		{"three byte runes offset", "a" + strings.Repeat("日", 100), 253},
		{"short", "Mozilla/5.0 (Linux) 日本", len("Mozilla/5.0 (Linux) 日本")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, 255)
			assert.True(t, utf8.ValidString(got))
			assert.Len(t, got, tt.want)
			assert.True(t, strings.HasPrefix(tt.in, got))
		})
	}

	name := deviceName("", strings.Repeat("ü", 200))
	assert.True(t, utf8.ValidString(name))
	assert.LessOrEqual(t, len(name), 255)
}
