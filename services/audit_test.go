package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	batches [][]model.AuditLog
	err     error
}

func (a *recordingArchiver) ArchiveAuditLogs(_ context.Context, logs []model.AuditLog, _ time.Time) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, logs)
	return "audit-archive/test.jsonl", nil
}

type staticLocator struct {
	location Location
	err      error
}

func (l staticLocator) Locate(context.Context, string) (Location, error) {
	return l.location, l.err
}

type channelNotifier chan *model.AuditLog

func (n channelNotifier) NotifySecurityAlert(_ context.Context, alert *model.AuditLog) error {
	n <- alert
	return nil
}

func TestLogAuthentication_FailedLoginIsMediumSeverity(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	result := svc.LogAuthentication(ctx, "user123", "login", false, "bad password", dto.RequestInfo{
		IPAddress: "203.0.113.5",
		UserAgent: "Mozilla/5.0",
	})
	require.True(t, result.Persisted)
	require.NotNil(t, result.Entry)

	entry := result.Entry
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, shared.SeverityMedium, entry.Severity)
	assert.Equal(t, shared.CategoryAuthentication, entry.Category)
	assert.False(t, entry.Success)
	assert.Equal(t, "bad password", entry.ErrorMessage)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
}

func TestLogActivity_RejectsInvalidEntry(t *testing.T) {
	svc, _, _ := newTestAudit(t)

	_, err := svc.LogActivity(context.Background(), dto.AuditEntry{
		Resource: "auth",
		Severity: shared.SeverityLow,
		Category: shared.CategoryAuthentication,
	})
	assert.True(t, shared.IsValidationError(err))

	_, err = svc.LogActivity(context.Background(), dto.AuditEntry{
		Action:   "login",
		Resource: "auth",
		Severity: "apocalyptic",
		Category: shared.CategoryAuthentication,
	})
	assert.True(t, shared.IsValidationError(err))
}

func TestLogActivity_StoreFailureSurfaces(t *testing.T) {
	svc, _, _ := newTestAudit(t)
	svc.repo = brokenAuditStore{}

	_, err := svc.LogActivity(context.Background(), dto.AuditEntry{
		Action:   "login",
		Resource: "auth",
		Severity: shared.SeverityLow,
		Category: shared.CategoryAuthentication,
	})
	assert.True(t, shared.IsStoreUnavailable(err))
}

func TestWrappers_FallBackWhenStoreIsDown(t *testing.T) {
	svc, _, fallback := newTestAudit(t)
	svc.repo = brokenAuditStore{}

	result := svc.LogPaymentEvent(context.Background(), "user123", "payment_capture", "pay_1", false, nil, dto.RequestInfo{})
	assert.False(t, result.Persisted)
	assert.True(t, result.Fallback)
	assert.Error(t, result.Err)
	assert.Contains(t, fallback.String(), "payment_capture")
	assert.Contains(t, fallback.String(), "Audit store unavailable")
}

func TestLogActivity_FillsLocation(t *testing.T) {
	svc, _, _ := newTestAudit(t)
	svc.SetLocator(staticLocator{location: Location{Country: "Vietnam", City: "Hanoi"}})

	result := svc.LogDataAccess(context.Background(), "user123", "reports", "r1", nil, dto.RequestInfo{IPAddress: "203.0.113.5"})
	require.True(t, result.Persisted)
	assert.Equal(t, "Vietnam", result.Entry.Country)
	assert.Equal(t, "Hanoi", result.Entry.City)

	svc.SetLocator(staticLocator{err: errors.New("lookup failed")})
	result = svc.LogDataAccess(context.Background(), "user123", "reports", "r1", nil, dto.RequestInfo{IPAddress: "203.0.113.5"})
	require.True(t, result.Persisted)
	assert.Empty(t, result.Entry.Country)
}

func TestLogSecurityEvent_CriticalRaisesAlert(t *testing.T) {
	svc, _, _ := newTestAudit(t)
	notified := make(channelNotifier, 1)
	svc.SetNotifier(notified)
	ctx := context.Background()

	result := svc.LogSecurityEvent(ctx, dto.SecurityEvent{
		Type:        "privilege_escalation",
		Severity:    shared.SeverityCritical,
		Description: "role changed outside admin flow",
		UserID:      "user123",
		IPAddress:   "203.0.113.5",
	})
	require.True(t, result.Persisted)

	logs, total, err := svc.QueryLogs(ctx, dto.AuditLogFilter{Severity: shared.SeverityCritical})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"privilege_escalation", ActionSecurityAlert}, actions)

	select {
	case alert := <-notified:
		assert.Equal(t, "privilege_escalation", alert.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("security alert was not delivered")
	}
}

func TestLogSecurityEvent_UnknownSeverityBecomesMedium(t *testing.T) {
	svc, _, _ := newTestAudit(t)

	result := svc.LogSecurityEvent(context.Background(), dto.SecurityEvent{Type: "odd", Severity: "weird"})
	require.True(t, result.Persisted)
	assert.Equal(t, shared.SeverityMedium, result.Entry.Severity)
	assert.Equal(t, shared.CategorySecurity, result.Entry.Category)
}

func TestQueryLogs_FiltersAndOrdersNewestFirst(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	svc.LogAuthentication(ctx, "user123", "login", true, "", dto.RequestInfo{})
	clock.Advance(time.Minute)
	svc.LogAuthentication(ctx, "user123", "login", false, "bad password", dto.RequestInfo{})
	clock.Advance(time.Minute)
	svc.LogAuthentication(ctx, "user456", "login", false, "bad password", dto.RequestInfo{})
	svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})

	failed := false
	logs, total, err := svc.QueryLogs(ctx, dto.AuditLogFilter{Category: shared.CategoryAuthentication, Success: &failed})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "user456", logs[0].UserID)
	assert.Equal(t, "user123", logs[1].UserID)

	logs, total, err = svc.QueryLogs(ctx, dto.AuditLogFilter{UserID: "user123", Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, logs, 1)

	start := clock.Now().Add(-30 * time.Second)
	_, total, err = svc.QueryLogs(ctx, dto.AuditLogFilter{StartDate: &start})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, _, err = svc.QueryLogs(ctx, dto.AuditLogFilter{Severity: "apocalyptic"})
	assert.True(t, shared.IsValidationError(err))
}

func TestGetStatistics_Aggregates(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	svc.LogAuthentication(ctx, "user123", "login", true, "", dto.RequestInfo{})
	svc.LogAuthentication(ctx, "user123", "login", false, "", dto.RequestInfo{})
	svc.LogSecurityEvent(ctx, dto.SecurityEvent{Type: "tamper", Severity: shared.SeverityCritical})
	svc.LogDataAccess(ctx, "user456", "reports", "", nil, dto.RequestInfo{})

	clock.Advance(2 * time.Hour)
	svc.LogDataAccess(ctx, "user456", "reports", "", nil, dto.RequestInfo{})

	hour, err := svc.GetStatistics(ctx, "hour")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hour.TotalEvents)

	day, err := svc.GetStatistics(ctx, "day")
	require.NoError(t, err)
	// tamper plus its alert entry
	assert.EqualValues(t, 6, day.TotalEvents)
	assert.EqualValues(t, 2, day.ByCategory[shared.CategoryAuthentication])
	assert.EqualValues(t, 2, day.ByCategory[shared.CategorySecurity])
	assert.EqualValues(t, 1, day.FailureCount)
	assert.EqualValues(t, 2, day.CriticalEvents)
	require.NotEmpty(t, day.TopUsers)
	assert.Equal(t, "user123", day.TopUsers[0].Key)

	_, err = svc.GetStatistics(ctx, "decade")
	assert.True(t, shared.IsValidationError(err))
}

func TestDetectSuspiciousActivity(t *testing.T) {
	svc, _, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.LogAuthentication(ctx, "user123", "login", false, "bad password", dto.RequestInfo{})
	}
	for i := 0; i < 3; i++ {
		svc.LogAuthorization(ctx, "user123", "/api/v1/admin", false, []string{shared.RoleAdmin}, dto.RequestInfo{})
	}
	svc.LogAuthentication(ctx, "user456", "login", false, "bad password", dto.RequestInfo{})

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 55, report.RiskScore)
	assert.Len(t, report.Flags, 2)
	assert.Contains(t, report.Flags[0], "failed login attempts: 5")
	assert.Contains(t, report.Flags[1], "authorization failures: 3")

	clean, err := svc.DetectSuspiciousActivity(ctx, "user456")
	require.NoError(t, err)
	assert.Zero(t, clean.RiskScore)
	assert.Empty(t, clean.Flags)
}

func TestDetectSuspiciousActivity_RapidActions(t *testing.T) {
	svc, _, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})
	}

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 15, report.RiskScore)
	require.Len(t, report.Flags, 1)
	assert.Contains(t, report.Flags[0], "Rapid consecutive actions: 11")
}

func TestDetectSuspiciousActivity_ExcessiveDataAccess(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})
		clock.Advance(2 * time.Second)
	}

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 20, report.RiskScore)
	require.Len(t, report.Flags, 1)
	assert.Contains(t, report.Flags[0], "Excessive data access: 101")
}

func TestDetectSuspiciousActivity_DataAccessAtThresholdIsClean(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})
		clock.Advance(2 * time.Second)
	}

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Zero(t, report.RiskScore)
}

func TestDetectSuspiciousActivity_PaymentFailuresByResource(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.LogPaymentEvent(ctx, "user123", "checkout", "pay-1", false, nil, dto.RequestInfo{})
		clock.Advance(2 * time.Second)
	}
	svc.LogPaymentEvent(ctx, "user123", "checkout", "pay-2", true, nil, dto.RequestInfo{})

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 35, report.RiskScore)
	require.Len(t, report.Flags, 1)
	assert.Contains(t, report.Flags[0], "payment failures: 5")
}

func TestDetectSuspiciousActivity_FailedSignInsUnderAnyActionName(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.LogAuthentication(ctx, "user123", "signin", false, "bad password", dto.RequestInfo{})
		svc.LogAuthentication(ctx, "user456", "verify_otp", false, "bad code", dto.RequestInfo{})
		clock.Advance(2 * time.Second)
	}

	report, err := svc.DetectSuspiciousActivity(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 30, report.RiskScore)
	require.Len(t, report.Flags, 1)
	assert.Contains(t, report.Flags[0], "failed login attempts: 5")

	otpOnly, err := svc.DetectSuspiciousActivity(ctx, "user456")
	require.NoError(t, err)
	assert.Zero(t, otpOnly.RiskScore)
}

func TestCleanupOldLogs_ArchivesThenDeletes(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	archiver := &recordingArchiver{}
	svc.SetArchiver(archiver)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})
	}
	clock.Advance(100 * 24 * time.Hour)
	svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})

	result, err := svc.CleanupOldLogs(ctx, 90)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Deleted)
	assert.Equal(t, 3, result.Archived)
	require.Len(t, archiver.batches, 1)
	assert.Len(t, archiver.batches[0], 3)

	logs, total, err := svc.QueryLogs(ctx, dto.AuditLogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, ActionAuditCleanup, logs[0].Action)
}

func TestCleanupOldLogs_ArchiveFailureKeepsEntries(t *testing.T) {
	svc, clock, _ := newTestAudit(t)
	svc.SetArchiver(&recordingArchiver{err: errors.New("bucket missing")})
	ctx := context.Background()

	svc.LogDataAccess(ctx, "user123", "reports", "", nil, dto.RequestInfo{})
	clock.Advance(100 * 24 * time.Hour)

	_, err := svc.CleanupOldLogs(ctx, 90)
	require.Error(t, err)

	_, total, err := svc.QueryLogs(ctx, dto.AuditLogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestCleanupOldLogs_RejectsNonPositiveRetention(t *testing.T) {
	svc, _, _ := newTestAudit(t)

	_, err := svc.CleanupOldLogs(context.Background(), 0)
	assert.True(t, shared.IsValidationError(err))
}
