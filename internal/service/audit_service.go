package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
)

// AuditSink receives every event after it has been stored. Delivery is best
// effort; a failing sink never fails the operation being audited.
type AuditSink interface {
	Publish(ctx context.Context, e model.SecurityAuditLog) error
}

// Event is the input of AuditService.Log. UserID is nil for events that
// happen before an identity is known. Fingerprint overrides the one derived
// from Meta, for events about a device other than the caller's.
type Event struct {
	UserID      *uint64
	Action      string
	Resource    string
	Details     model.Details
	Meta        RequestMeta
	Fingerprint string
	Success     bool
}

// AuditService appends security events and analyses a user's recent trail.
type AuditService struct {
	repo    *repository.AuditRepo
	devices *repository.DeviceRepo
	sink    AuditSink
	policy  config.SuspicionConfig
	log     zerolog.Logger

	Now func() time.Time
}

func NewAuditService(db *sql.DB, policy config.SuspicionConfig, log zerolog.Logger) *AuditService {
	return &AuditService{
		repo:    repository.NewAuditRepo(db),
		devices: repository.NewDeviceRepo(db),
		policy:  policy,
		log:     log,
		Now:     utcNow,
	}
}

// SetSink installs the sink events are mirrored to after the insert.
func (s *AuditService) SetSink(sink AuditSink) { s.sink = sink }

// Log appends exactly one event. Only a store failure is returned.
func (s *AuditService) Log(ctx context.Context, e Event) (model.SecurityAuditLog, error) {
	entry := model.SecurityAuditLog{
		UserID:            e.UserID,
		Action:            e.Action,
		Resource:          e.Resource,
		IPAddress:         e.Meta.IP,
		UserAgent:         e.Meta.UserAgent,
		DeviceFingerprint: e.Meta.Fingerprint(),
		Details:           e.Details,
		Success:           e.Success,
		CreatedAt:         s.Now().UTC(),
	}
	if e.Fingerprint != "" {
		entry.DeviceFingerprint = e.Fingerprint
	}
	if entry.Details == nil {
		entry.Details = model.Details{}
	}
	if err := s.repo.Append(ctx, &entry); err != nil {
		s.log.Error().Err(err).Str("action", e.Action).Msg("audit append failed")
		return model.SecurityAuditLog{}, fmt.Errorf("append audit event: %w", err)
	}
	if s.sink != nil {
		if err := s.sink.Publish(ctx, entry); err != nil {
			s.log.Warn().Err(err).Uint64("audit_id", entry.ID).Msg("audit sink publish failed")
		}
	}
	return entry, nil
}

// ListForUser returns a user's newest events.
func (s *AuditService) ListForUser(ctx context.Context, userID uint64, limit int) ([]model.SecurityAuditLog, error) {
	out, err := s.repo.LatestForUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

// ListRecent returns the newest events across all users, optionally only
// those with the given action.
func (s *AuditService) ListRecent(ctx context.Context, action string, limit int) ([]model.SecurityAuditLog, error) {
	out, err := s.repo.Latest(ctx, action, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 500:
		return 500
	}
	return n
}

// Recommendation texts, in the order they are reported.
const (
	RecommendMultipleLocations = "Multiple login locations detected. Review your recent sessions and change your password if you don't recognize them."
	RecommendUnusualDevices    = "Activity from unrecognized devices detected. Review your devices and revoke any you don't recognize."
	RecommendRecentFailures    = "Multiple failed login attempts detected. Consider enabling additional security measures."
	RecommendNoneDetected      = "No suspicious activity detected."
)

// SuspiciousActivityReport is the result of DetectSuspiciousActivity.
type SuspiciousActivityReport struct {
	HasMultipleLocations bool     `json:"hasMultipleLocations"`
	HasUnusualDevices    bool     `json:"hasUnusualDevices"`
	HasRecentFailures    bool     `json:"hasRecentFailures"`
	Recommendations      []string `json:"recommendations"`
}

// DetectSuspiciousActivity inspects the user's newest events inside the
// lookback window and evaluates three independent heuristics.
func (s *AuditService) DetectSuspiciousActivity(ctx context.Context, userID uint64) (SuspiciousActivityReport, error) {
	since := s.Now().UTC().Add(-s.policy.Lookback)
	events, err := s.repo.LatestForUser(ctx, userID, s.policy.SampleSize)
	if err != nil {
		return SuspiciousActivityReport{}, fmt.Errorf("load audit events: %w", err)
	}
	trusted, err := s.devices.TrustedFingerprints(ctx, userID)
	if err != nil {
		return SuspiciousActivityReport{}, fmt.Errorf("load trusted devices: %w", err)
	}

	ips := map[string]struct{}{}
	failedLogins := 0
	var report SuspiciousActivityReport
	for _, e := range events {
		if e.CreatedAt.Before(since) {
			continue
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
		if e.DeviceFingerprint != "" && !trusted[e.DeviceFingerprint] {
			report.HasUnusualDevices = true
		}
		if e.Action == model.ActionLogin && !e.Success {
			failedLogins++
		}
	}
	report.HasMultipleLocations = len(ips) > s.policy.MaxDistinctIPs
	report.HasRecentFailures = failedLogins > s.policy.MaxFailedLogins

	if report.HasMultipleLocations {
		report.Recommendations = append(report.Recommendations, RecommendMultipleLocations)
	}
	if report.HasUnusualDevices {
		report.Recommendations = append(report.Recommendations, RecommendUnusualDevices)
	}
	if report.HasRecentFailures {
		report.Recommendations = append(report.Recommendations, RecommendRecentFailures)
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = []string{RecommendNoneDetected}
	}
	return report, nil
}
