package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/model"
)

type recordingSink struct {
	got []model.SecurityAuditLog
	err error
}

func (s *recordingSink) Publish(_ context.Context, e model.SecurityAuditLog) error {
	s.got = append(s.got, e)
	return s.err
}

func TestAuditService_Log(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := newClock()
	a := newAudit(db, c)
	sink := &recordingSink{err: errors.New("broker down")}
	a.SetSink(sink)

	e, err := a.Log(ctx, Event{
		Action:   model.ActionAccessDenied,
		Resource: "/v1/admin/audit",
		Details:  model.Details{"tier": "critical", "reason": "missing_credential"},
		Meta:     chromeMeta,
	})
	require.NoError(t, err, "a failing sink never fails the append")
	assert.NotZero(t, e.ID)
	assert.Nil(t, e.UserID)
	assert.False(t, e.Success)
	assert.Equal(t, chromeMeta.Fingerprint(), e.DeviceFingerprint)
	require.Len(t, sink.got, 1)
	assert.Equal(t, e.ID, sink.got[0].ID)

	recent, err := a.ListRecent(ctx, model.ActionAccessDenied, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].UserID)
	assert.Equal(t, "critical", recent[0].Details["tier"])
	assert.Equal(t, "203.0.113.7", recent[0].IPAddress)
	assert.Equal(t, testStart, recent[0].CreatedAt)

	none, err := a.ListRecent(ctx, model.ActionLogin, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditService_FingerprintOverride(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := newAudit(db, newClock())

	e, err := a.Log(ctx, Event{UserID: UserRef(1), Action: model.ActionDeviceRemoved, Meta: RequestMeta{}, Fingerprint: "abc", Success: true})
	require.NoError(t, err)
	assert.Equal(t, "abc", e.DeviceFingerprint)

	e, err = a.Log(ctx, Event{UserID: UserRef(1), Action: model.ActionLogout, Meta: RequestMeta{IP: "1.1.1.1"}, Success: true})
	require.NoError(t, err)
	assert.Empty(t, e.DeviceFingerprint, "no identifying headers, no fingerprint")
	assert.Equal(t, model.Details{}, e.Details)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 50, clampLimit(-1))
	assert.Equal(t, 20, clampLimit(20))
	assert.Equal(t, 500, clampLimit(10_000))
}

func TestDetectSuspiciousActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("quiet account", func(t *testing.T) {
		db := newTestDB(t)
		a := newAudit(db, newClock())
		u := createUser(t, db, "quiet@example.com", "password123", model.RoleUser)

		for i := 0; i < 3; i++ {
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: testMeta("10.0.0.1"), Success: true})
			require.NoError(t, err)
		}
		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, SuspiciousActivityReport{Recommendations: []string{RecommendNoneDetected}}, r)
	})

	t.Run("many locations", func(t *testing.T) {
		db := newTestDB(t)
		a := newAudit(db, newClock())
		u := createUser(t, db, "travel@example.com", "password123", model.RoleUser)

		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: testMeta(ip), Success: true})
			require.NoError(t, err)
		}
		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, r.HasMultipleLocations)
		assert.False(t, r.HasUnusualDevices)
		assert.False(t, r.HasRecentFailures)
		assert.Equal(t, []string{RecommendMultipleLocations}, r.Recommendations)
	})

	t.Run("three ips is within threshold", func(t *testing.T) {
		db := newTestDB(t)
		a := newAudit(db, newClock())
		u := createUser(t, db, "three@example.com", "password123", model.RoleUser)

		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: testMeta(ip), Success: true})
			require.NoError(t, err)
		}
		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, r.HasMultipleLocations)
	})

	t.Run("failed logins", func(t *testing.T) {
		db := newTestDB(t)
		a := newAudit(db, newClock())
		u := createUser(t, db, "brute@example.com", "password123", model.RoleUser)

		for i := 0; i < 3; i++ {
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: testMeta("10.0.0.1")})
			require.NoError(t, err)
		}
		// failures of other actions do not count
		_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionAccessDenied, Meta: testMeta("10.0.0.1")})
		require.NoError(t, err)

		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, r.HasRecentFailures)
		assert.Equal(t, []string{RecommendRecentFailures}, r.Recommendations)
	})

	t.Run("untrusted device until trusted", func(t *testing.T) {
		db := newTestDB(t)
		c := newClock()
		a := newAudit(db, c)
		devices := NewDeviceService(db, a, testLogger())
		devices.Now = c.Now
		u := createUser(t, db, "device@example.com", "password123", model.RoleUser)

		d, err := devices.Track(ctx, u.ID, chromeMeta, TrackOptions{})
		require.NoError(t, err)
		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, r.HasUnusualDevices)
		assert.Equal(t, []string{RecommendUnusualDevices}, r.Recommendations)

		_, err = devices.Trust(ctx, u.ID, d.ID, chromeMeta)
		require.NoError(t, err)
		r, err = a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, r.HasUnusualDevices)
	})

	t.Run("old events fall outside the lookback", func(t *testing.T) {
		db := newTestDB(t)
		c := newClock()
		a := newAudit(db, c)
		u := createUser(t, db, "old@example.com", "password123", model.RoleUser)

		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: testMeta(ip)})
			require.NoError(t, err)
		}
		c.Advance(25 * time.Hour)

		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, r.HasMultipleLocations)
		assert.False(t, r.HasRecentFailures)
		assert.Equal(t, []string{RecommendNoneDetected}, r.Recommendations)
	})

	t.Run("all three", func(t *testing.T) {
		db := newTestDB(t)
		a := newAudit(db, newClock())
		u := createUser(t, db, "all@example.com", "password123", model.RoleUser)

		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
			meta := chromeMeta
			meta.IP = ip
			_, err := a.Log(ctx, Event{UserID: &u.ID, Action: model.ActionLogin, Meta: meta})
			require.NoError(t, err)
		}
		r, err := a.DetectSuspiciousActivity(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, SuspiciousActivityReport{
			HasMultipleLocations: true,
			HasUnusualDevices:    true,
			HasRecentFailures:    true,
			Recommendations:      []string{RecommendMultipleLocations, RecommendUnusualDevices, RecommendRecentFailures},
		}, r)
	})
}
