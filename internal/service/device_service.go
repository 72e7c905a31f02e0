package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/utils"
)

// TrackOptions tune what Track does on first sight of a device.
type TrackOptions struct {
	Trust      bool
	DeviceName string
}

// DeviceService keeps the per-user list of devices identified by header
// fingerprint. Every successful mutation appends one audit event.
type DeviceService struct {
	repo  *repository.DeviceRepo
	audit *AuditService
	log   zerolog.Logger

	Now func() time.Time
}

func NewDeviceService(db *sql.DB, audit *AuditService, log zerolog.Logger) *DeviceService {
	return &DeviceService{repo: repository.NewDeviceRepo(db), audit: audit, log: log, Now: utcNow}
}

// Track registers the request's device on first sight, otherwise refreshes
// last-seen and IP. Trust is only raised here, never lowered.
func (s *DeviceService) Track(ctx context.Context, userID uint64, meta RequestMeta, opts TrackOptions) (model.TrustedDevice, error) {
	now := s.Now().UTC()
	fp := utils.GenerateDeviceFingerprint(meta.UserAgent, meta.AcceptLanguage, meta.AcceptEncoding)

	d, err := s.repo.GetByFingerprint(ctx, userID, fp)
	if errors.Is(err, repository.ErrNotFound) {
		d = model.TrustedDevice{
			UserID:      userID,
			Fingerprint: fp,
			DeviceName:  deviceName(opts.DeviceName, meta.UserAgent),
			UserAgent:   meta.UserAgent,
			IPAddress:   meta.IP,
			IsTrusted:   opts.Trust,
			LastSeenAt:  now,
			CreatedAt:   now,
		}
		err = s.repo.Insert(ctx, &d)
		if err == nil {
			s.log.Info().Uint64("user_id", userID).Uint64("device_id", d.ID).Msg("device registered")
			_, err = s.audit.Log(ctx, Event{
				UserID:      &userID,
				Action:      model.ActionDeviceRegistered,
				Resource:    "device",
				Details:     model.Details{"deviceId": fmt.Sprint(d.ID), "trusted": fmt.Sprint(d.IsTrusted)},
				Meta:        meta,
				Fingerprint: fp,
				Success:     true,
			})
			return d, err
		}
		if !errors.Is(err, repository.ErrConflict) {
			return model.TrustedDevice{}, fmt.Errorf("insert device: %w", err)
		}
		// registered concurrently by another request
		d, err = s.repo.GetByFingerprint(ctx, userID, fp)
	}
	if err != nil {
		return model.TrustedDevice{}, fmt.Errorf("load device: %w", err)
	}

	if err := s.repo.Touch(ctx, d.ID, meta.IP, opts.Trust, now); err != nil {
		return model.TrustedDevice{}, fmt.Errorf("touch device: %w", err)
	}
	d.LastSeenAt = now
	d.IPAddress = meta.IP
	d.IsTrusted = d.IsTrusted || opts.Trust
	return d, nil
}

func deviceName(explicit, userAgent string) string {
	if n := strings.TrimSpace(explicit); n != "" {
		return truncate(n, 255)
	}
	if userAgent == "" {
		return "Unknown device"
	}
	return truncate(userAgent, 255)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// IsTrusted reports whether the user trusts the device with fingerprint.
// Unknown devices are not trusted.
func (s *DeviceService) IsTrusted(ctx context.Context, userID uint64, fingerprint string) (bool, error) {
	d, err := s.repo.GetByFingerprint(ctx, userID, fingerprint)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load device: %w", err)
	}
	return d.IsTrusted, nil
}

// Trust marks an owned device trusted. It returns false when the device does
// not exist or belongs to someone else.
func (s *DeviceService) Trust(ctx context.Context, userID, deviceID uint64, meta RequestMeta) (bool, error) {
	return s.setTrust(ctx, userID, deviceID, true, meta)
}

// RevokeTrust clears the trust flag of an owned device.
func (s *DeviceService) RevokeTrust(ctx context.Context, userID, deviceID uint64, meta RequestMeta) (bool, error) {
	return s.setTrust(ctx, userID, deviceID, false, meta)
}

func (s *DeviceService) setTrust(ctx context.Context, userID, deviceID uint64, trusted bool, meta RequestMeta) (bool, error) {
	// Ownership comes from the lookup; MySQL reports zero affected rows for an
	// UPDATE that leaves the value unchanged.
	d, err := s.repo.GetByID(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load device: %w", err)
	}
	if _, err := s.repo.SetTrusted(ctx, userID, deviceID, trusted); err != nil {
		return false, fmt.Errorf("update device trust: %w", err)
	}
	action := model.ActionDeviceTrusted
	if !trusted {
		action = model.ActionDeviceTrustRevoke
	}
	if _, err := s.audit.Log(ctx, Event{
		UserID:      &userID,
		Action:      action,
		Resource:    "device",
		Details:     model.Details{"deviceId": fmt.Sprint(deviceID)},
		Meta:        meta,
		Fingerprint: d.Fingerprint,
		Success:     true,
	}); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes an owned device.
func (s *DeviceService) Remove(ctx context.Context, userID, deviceID uint64, meta RequestMeta) (bool, error) {
	d, err := s.repo.GetByID(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load device: %w", err)
	}
	removed, err := s.repo.Delete(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("delete device: %w", err)
	}
	if !removed {
		return false, nil
	}
	_, err = s.audit.Log(ctx, Event{
		UserID:      &userID,
		Action:      model.ActionDeviceRemoved,
		Resource:    "device",
		Details:     model.Details{"deviceId": fmt.Sprint(deviceID)},
		Meta:        meta,
		Fingerprint: d.Fingerprint,
		Success:     true,
	})
	return true, err
}

// List returns the user's devices, most recently seen first.
func (s *DeviceService) List(ctx context.Context, userID uint64) ([]model.TrustedDevice, error) {
	out, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}
