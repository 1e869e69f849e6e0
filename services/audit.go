package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

const AUDIT_SVC = "audit_svc"

const (
	ActionSecurityAlert = "security_alert_triggered"
	ActionAuditCleanup  = "audit_logs_cleanup"

	defaultAuditQueryLimit = 50
	maxAuditQueryLimit     = 1000
	archiveBatchSize       = 1000
	topUsersLimit          = 10
	defaultRetentionDays   = 90
)

// Suspicious activity thresholds and weights over the last 24 hours.
const (
	failedLoginThreshold       = 5
	failedLoginWeight          = 30
	dataAccessThreshold        = 100
	dataAccessWeight           = 20
	authorizationFailThreshold = 3
	authorizationFailWeight    = 25
	paymentFailThreshold       = 5
	paymentFailWeight          = 35
	rapidActionThreshold       = 10
	rapidActionWeight          = 15
	rapidActionGap             = time.Second
)

// nonLoginAuthActions are authentication-category actions whose failures are not sign-in attempts.
var nonLoginAuthActions = []string{"otp", "logout", "register", "registration"}

var statisticsTimeframes = map[string]time.Duration{
	"hour":  time.Hour,
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
}

// AuditStore is the durable side of the audit log.
type AuditStore interface {
	Create(ctx context.Context, entry *model.AuditLog) error
	Query(ctx context.Context, filter dto.AuditLogFilter) ([]model.AuditLog, int64, error)
	Count(ctx context.Context, q repositories.AuditCountQuery) (int64, error)
	CountBy(ctx context.Context, column string, since time.Time) (map[string]int64, error)
	TopUsers(ctx context.Context, since time.Time, limit int) ([]dto.CountByKey, error)
	Timestamps(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]model.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditArchiver keeps a copy of entries removed by retention cleanup.
type AuditArchiver interface {
	ArchiveAuditLogs(ctx context.Context, logs []model.AuditLog, cutoff time.Time) (string, error)
}

// IPLocator resolves the location stored with an audited IP address.
type IPLocator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// AlertNotifier delivers critical security alerts outside the audit store.
type AlertNotifier interface {
	NotifySecurityAlert(ctx context.Context, alert *model.AuditLog) error
}

type AuditService struct {
	appContext.DefaultService

	repo     AuditStore
	archiver AuditArchiver
	locator  IPLocator
	notifier AlertNotifier
	metrics  *MonitoringService
	dbSvc    DatabaseService

	fallback      *log.Logger
	now           func() time.Time
	retentionDays int
	closed        chan struct{}
}

func NewAuditService(repo AuditStore) *AuditService {
	return &AuditService{
		repo:          repo,
		fallback:      newFallbackLogger(os.Stderr),
		now:           time.Now,
		retentionDays: defaultRetentionDays,
	}
}

func newFallbackLogger(out io.Writer) *log.Logger {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetFormatter(&log.JSONFormatter{})
	return logger
}

func (svc AuditService) Id() string {
	return AUDIT_SVC
}

func (svc *AuditService) Configure(ctx *appContext.Context) error {
	if svc.fallback == nil {
		svc.fallback = newFallbackLogger(os.Stderr)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.repo == nil {
		svc.dbSvc = databaseService(ctx)
		if svc.dbSvc == nil {
			return fmt.Errorf("audit service requires %s or %s", POSTGRES_SVC, SQLITE_SVC)
		}
	}
	if svc.archiver == nil {
		if minioSvc, ok := ctx.Service(MINIO_SVC).(*MinIOService); ok && minioSvc != nil {
			svc.archiver = minioSvc
		}
	}
	if svc.locator == nil {
		if geoSvc, ok := ctx.Service(GEOLOCATION_SVC).(*GeolocationService); ok && geoSvc != nil {
			svc.locator = geoSvc
		}
	}
	if svc.notifier == nil {
		if emailSvc, ok := ctx.Service(EMAIL_SVC).(*EmailService); ok && emailSvc != nil {
			svc.notifier = emailSvc
		}
	}
	if svc.metrics == nil {
		svc.metrics, _ = ctx.Service(MONITORING_SVC).(*MonitoringService)
	}

	svc.retentionDays = defaultRetentionDays
	if days, err := strconv.Atoi(os.Getenv("AUDIT_RETENTION_DAYS")); err == nil {
		svc.retentionDays = days
	}

	return svc.DefaultService.Configure(ctx)
}

// Start binds the repository once the database is open and schedules retention cleanup.
func (svc *AuditService) Start() error {
	if svc.repo == nil && svc.dbSvc != nil {
		svc.repo = repositories.NewAuditRepository(svc.dbSvc.Db())
	}

	svc.closed = make(chan struct{})
	if svc.retentionDays > 0 {
		go svc.startRetentionJob()
	}
	return nil
}

func (svc *AuditService) Shutdown() {
	if svc.closed != nil {
		close(svc.closed)
	}
}

func (svc *AuditService) SetClock(now func() time.Time) {
	svc.now = now
}

func (svc *AuditService) SetArchiver(archiver AuditArchiver) {
	svc.archiver = archiver
}

func (svc *AuditService) SetLocator(locator IPLocator) {
	svc.locator = locator
}

func (svc *AuditService) SetNotifier(notifier AlertNotifier) {
	svc.notifier = notifier
}

// SetFallbackOutput redirects the sink used when the audit store rejects a write.
func (svc *AuditService) SetFallbackOutput(out io.Writer) {
	svc.fallback = newFallbackLogger(out)
}

func (svc *AuditService) startRetentionJob() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := svc.CleanupOldLogs(context.Background(), svc.retentionDays)
			if err != nil {
				log.WithError(err).Error("Audit retention cleanup failed")
				continue
			}
			log.WithField("deleted", result.Deleted).Info("Audit retention cleanup completed")
		case <-svc.closed:
			return
		}
	}
}

func (svc *AuditService) buildRecord(entry dto.AuditEntry) (*model.AuditLog, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	record := &model.AuditLog{
		ID:           id.String(),
		UserID:       entry.UserID,
		UserEmail:    entry.UserEmail,
		UserRole:     entry.UserRole,
		Action:       entry.Action,
		Resource:     entry.Resource,
		ResourceID:   entry.ResourceID,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		SessionID:    entry.SessionID,
		Success:      true,
		ErrorMessage: entry.ErrorMessage,
		Severity:     entry.Severity,
		Category:     entry.Category,
		CreatedAt:    svc.now().UTC(),
	}
	if entry.Success != nil {
		record.Success = *entry.Success
	}
	if len(entry.Details) > 0 {
		details, err := shared.JSON().Marshal(entry.Details)
		if err != nil {
			return nil, err
		}
		record.Details = details
	}
	return record, nil
}

func validateAuditEntry(entry dto.AuditEntry) error {
	if err := entry.Validate(); err != nil {
		if fieldErrors := dto.FormatValidationErrors(err); len(fieldErrors) > 0 {
			return shared.NewValidationError(fieldErrors[0].Field, fieldErrors[0].Message)
		}
		return shared.NewValidationError("", err.Error())
	}
	return nil
}

// LogActivity persists one entry and surfaces store failures. Critical security entries raise an alert.
func (svc *AuditService) LogActivity(ctx context.Context, entry dto.AuditEntry) (*model.AuditLog, error) {
	if err := validateAuditEntry(entry); err != nil {
		return nil, err
	}

	record, err := svc.buildRecord(entry)
	if err != nil {
		return nil, err
	}
	svc.locate(ctx, record)

	if err := svc.repo.Create(ctx, record); err != nil {
		return record, shared.NewStoreUnavailableError("audit_write", err)
	}

	if record.Category == shared.CategorySecurity && record.Severity == shared.SeverityCritical && record.Action != ActionSecurityAlert {
		svc.triggerAlert(ctx, record)
	}

	return record, nil
}

// locate fills country and city when a locator is configured. Lookup failures leave them empty.
func (svc *AuditService) locate(ctx context.Context, record *model.AuditLog) {
	if svc.locator == nil || record.IPAddress == "" {
		return
	}
	location, err := svc.locator.Locate(ctx, record.IPAddress)
	if err != nil {
		log.WithError(err).WithField("ip", record.IPAddress).Debug("Geolocation lookup failed")
		return
	}
	record.Country = location.Country
	record.City = location.City
}

// triggerAlert records a follow-up alert entry. Its failure never reaches the caller.
func (svc *AuditService) triggerAlert(ctx context.Context, source *model.AuditLog) {
	log.WithFields(log.Fields{
		"audit_id": source.ID,
		"action":   source.Action,
		"user_id":  source.UserID,
		"ip":       source.IPAddress,
	}).Error("Critical security event")

	alert, err := svc.buildRecord(dto.AuditEntry{
		UserID:    source.UserID,
		Action:    ActionSecurityAlert,
		Resource:  "security_alert",
		IPAddress: source.IPAddress,
		UserAgent: source.UserAgent,
		Details: map[string]interface{}{
			"source_id":     source.ID,
			"source_action": source.Action,
		},
		Severity: shared.SeverityCritical,
		Category: shared.CategorySecurity,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build security alert")
		return
	}
	alert.Country = source.Country
	alert.City = source.City

	if err := svc.repo.Create(ctx, alert); err != nil {
		svc.writeFallback(alert, err)
	}

	if svc.notifier != nil {
		go func(source *model.AuditLog) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := svc.notifier.NotifySecurityAlert(notifyCtx, source); err != nil {
				log.WithError(err).WithField("audit_id", source.ID).Error("Failed to deliver security alert")
			}
		}(source)
	}
}

func (svc *AuditService) writeFallback(record *model.AuditLog, cause error) {
	fields := log.Fields{
		"audit_id":   record.ID,
		"user_id":    record.UserID,
		"action":     record.Action,
		"resource":   record.Resource,
		"category":   record.Category,
		"severity":   record.Severity,
		"success":    record.Success,
		"ip_address": record.IPAddress,
		"created_at": record.CreatedAt,
	}
	if record.ResourceID != "" {
		fields["resource_id"] = record.ResourceID
	}
	if len(record.Details) > 0 {
		fields["details"] = string(record.Details)
	}
	if record.ErrorMessage != "" {
		fields["error_message"] = record.ErrorMessage
	}
	svc.fallback.WithFields(fields).WithError(cause).Error("Audit store unavailable, entry written to fallback log")
}

// write backs every convenience wrapper: it never fails, it reports where the entry went.
func (svc *AuditService) write(ctx context.Context, entry dto.AuditEntry) dto.AuditWriteResult {
	record, err := svc.LogActivity(ctx, entry)
	if err == nil {
		svc.metrics.RecordAuditWrite(entry.Category, true)
		return dto.AuditWriteResult{Entry: record, Persisted: true}
	}

	if record == nil {
		record, _ = svc.buildRecord(entry)
	}
	if record != nil {
		svc.writeFallback(record, err)
	}
	svc.metrics.RecordAuditWrite(entry.Category, false)
	return dto.AuditWriteResult{Entry: record, Persisted: false, Fallback: true, Err: err}
}

func boolPtr(b bool) *bool {
	return &b
}

func (svc *AuditService) LogAuthentication(ctx context.Context, userID, action string, success bool, errorMessage string, info dto.RequestInfo) dto.AuditWriteResult {
	severity := shared.SeverityLow
	if !success {
		severity = shared.SeverityMedium
	}

	return svc.write(ctx, dto.AuditEntry{
		UserID:       userID,
		UserEmail:    info.UserEmail,
		UserRole:     info.UserRole,
		Action:       action,
		Resource:     "auth",
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		SessionID:    info.SessionID,
		Success:      boolPtr(success),
		ErrorMessage: errorMessage,
		Severity:     severity,
		Category:     shared.CategoryAuthentication,
	})
}

func (svc *AuditService) LogSecurityEvent(ctx context.Context, event dto.SecurityEvent) dto.AuditWriteResult {
	severity := event.Severity
	switch severity {
	case shared.SeverityLow, shared.SeverityMedium, shared.SeverityHigh, shared.SeverityCritical:
	default:
		severity = shared.SeverityMedium
	}

	details := make(map[string]interface{}, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		details[k] = v
	}
	if event.Description != "" {
		details["description"] = event.Description
	}

	return svc.write(ctx, dto.AuditEntry{
		UserID:    event.UserID,
		Action:    event.Type,
		Resource:  "security",
		Details:   details,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Severity:  severity,
		Category:  shared.CategorySecurity,
	})
}

func (svc *AuditService) LogAdminAction(ctx context.Context, adminID, action, resource, resourceID string, success bool, details map[string]interface{}, info dto.RequestInfo) dto.AuditWriteResult {
	severity := shared.SeverityMedium
	if !success {
		severity = shared.SeverityHigh
	}

	return svc.write(ctx, dto.AuditEntry{
		UserID:     adminID,
		UserEmail:  info.UserEmail,
		UserRole:   info.UserRole,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		SessionID:  info.SessionID,
		Success:    boolPtr(success),
		Severity:   severity,
		Category:   shared.CategorySystem,
	})
}

func (svc *AuditService) LogPaymentEvent(ctx context.Context, userID, action, paymentID string, success bool, details map[string]interface{}, info dto.RequestInfo) dto.AuditWriteResult {
	severity := shared.SeverityMedium
	if !success {
		severity = shared.SeverityHigh
	}

	return svc.write(ctx, dto.AuditEntry{
		UserID:     userID,
		UserEmail:  info.UserEmail,
		UserRole:   info.UserRole,
		Action:     action,
		Resource:   "payment",
		ResourceID: paymentID,
		Details:    details,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		SessionID:  info.SessionID,
		Success:    boolPtr(success),
		Severity:   severity,
		Category:   shared.CategoryDataModification,
	})
}

func (svc *AuditService) LogDataAccess(ctx context.Context, userID, resource, resourceID string, details map[string]interface{}, info dto.RequestInfo) dto.AuditWriteResult {
	return svc.write(ctx, dto.AuditEntry{
		UserID:     userID,
		UserEmail:  info.UserEmail,
		UserRole:   info.UserRole,
		Action:     "data_access",
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		SessionID:  info.SessionID,
		Severity:   shared.SeverityLow,
		Category:   shared.CategoryDataAccess,
	})
}

func (svc *AuditService) LogAuthorization(ctx context.Context, userID, resource string, success bool, requiredRoles []string, info dto.RequestInfo) dto.AuditWriteResult {
	severity := shared.SeverityLow
	action := "access_granted"
	if !success {
		severity = shared.SeverityMedium
		action = "access_denied"
	}

	return svc.write(ctx, dto.AuditEntry{
		UserID:    userID,
		UserEmail: info.UserEmail,
		UserRole:  info.UserRole,
		Action:    action,
		Resource:  resource,
		Details:   map[string]interface{}{"required_roles": requiredRoles},
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		SessionID: info.SessionID,
		Success:   boolPtr(success),
		Severity:  severity,
		Category:  shared.CategoryAuthorization,
	})
}

// Record is the best-effort form of LogActivity for callers that build their own entry.
func (svc *AuditService) Record(ctx context.Context, entry dto.AuditEntry) dto.AuditWriteResult {
	return svc.write(ctx, entry)
}

// QueryLogs returns one page of entries, newest first.
func (svc *AuditService) QueryLogs(ctx context.Context, filter dto.AuditLogFilter) ([]model.AuditLog, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditQueryLimit
	}
	if filter.Limit > maxAuditQueryLimit {
		filter.Limit = maxAuditQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if err := filter.Validate(); err != nil {
		if fieldErrors := dto.FormatValidationErrors(err); len(fieldErrors) > 0 {
			return nil, 0, shared.NewValidationError(fieldErrors[0].Field, fieldErrors[0].Message)
		}
		return nil, 0, shared.NewValidationError("", err.Error())
	}

	logs, total, err := svc.repo.Query(ctx, filter)
	if err != nil {
		return nil, 0, shared.NewStoreUnavailableError("audit_query", err)
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return logs, total, nil
}

func (svc *AuditService) GetStatistics(ctx context.Context, timeframe string) (dto.AuditStatistics, error) {
	window, ok := statisticsTimeframes[timeframe]
	if !ok {
		return dto.AuditStatistics{}, shared.NewValidationError("timeframe", "timeframe must be one of: hour day week month")
	}

	since := svc.now().UTC().Add(-window)
	stats := dto.AuditStatistics{Timeframe: timeframe, Since: since}

	var err error
	wrap := func(err error) error {
		return shared.NewStoreUnavailableError("audit_statistics", err)
	}

	if stats.TotalEvents, err = svc.repo.Count(ctx, repositories.AuditCountQuery{Since: since}); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}
	if stats.ByCategory, err = svc.repo.CountBy(ctx, "category", since); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}
	if stats.ByAction, err = svc.repo.CountBy(ctx, "action", since); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}
	if stats.SuccessCount, err = svc.repo.Count(ctx, repositories.AuditCountQuery{Since: since, Success: boolPtr(true)}); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}
	stats.FailureCount = stats.TotalEvents - stats.SuccessCount
	if stats.CriticalEvents, err = svc.repo.Count(ctx, repositories.AuditCountQuery{Since: since, Severity: shared.SeverityCritical}); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}
	if stats.TopUsers, err = svc.repo.TopUsers(ctx, since, topUsersLimit); err != nil {
		return dto.AuditStatistics{}, wrap(err)
	}

	return stats, nil
}

// DetectSuspiciousActivity scans the last 24 hours, for one user or for everyone when userID is empty.
func (svc *AuditService) DetectSuspiciousActivity(ctx context.Context, userID string) (dto.SuspiciousActivityReport, error) {
	since := svc.now().UTC().Add(-24 * time.Hour)
	report := dto.SuspiciousActivityReport{UserID: userID, Since: since, Flags: []string{}}
	wrap := func(err error) error {
		return shared.NewStoreUnavailableError("audit_suspicious_activity", err)
	}

	failedLogins, err := svc.repo.Count(ctx, repositories.AuditCountQuery{
		UserID:            userID,
		Since:             since,
		Category:          shared.CategoryAuthentication,
		ExcludeActionLike: nonLoginAuthActions,
		Success:           boolPtr(false),
	})
	if err != nil {
		return report, wrap(err)
	}
	if failedLogins >= failedLoginThreshold {
		report.Flags = append(report.Flags, fmt.Sprintf("Multiple failed login attempts: %d", failedLogins))
		report.RiskScore += failedLoginWeight
	}

	dataAccess, err := svc.repo.Count(ctx, repositories.AuditCountQuery{
		UserID: userID, Since: since, Category: shared.CategoryDataAccess,
	})
	if err != nil {
		return report, wrap(err)
	}
	if dataAccess > dataAccessThreshold {
		report.Flags = append(report.Flags, fmt.Sprintf("Excessive data access: %d events", dataAccess))
		report.RiskScore += dataAccessWeight
	}

	authzFailures, err := svc.repo.Count(ctx, repositories.AuditCountQuery{
		UserID: userID, Since: since, Category: shared.CategoryAuthorization, Success: boolPtr(false),
	})
	if err != nil {
		return report, wrap(err)
	}
	if authzFailures >= authorizationFailThreshold {
		report.Flags = append(report.Flags, fmt.Sprintf("Multiple authorization failures: %d", authzFailures))
		report.RiskScore += authorizationFailWeight
	}

	paymentFailures, err := svc.repo.Count(ctx, repositories.AuditCountQuery{
		UserID:     userID,
		Since:      since,
		Resource:   "payment",
		ActionLike: "payment",
		Success:    boolPtr(false),
	})
	if err != nil {
		return report, wrap(err)
	}
	if paymentFailures >= paymentFailThreshold {
		report.Flags = append(report.Flags, fmt.Sprintf("Multiple payment failures: %d", paymentFailures))
		report.RiskScore += paymentFailWeight
	}

	timestamps, err := svc.repo.Timestamps(ctx, userID, since)
	if err != nil {
		return report, wrap(err)
	}
	rapid := 0
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].Sub(timestamps[i-1]) < rapidActionGap {
			rapid++
		}
	}
	if rapid > rapidActionThreshold {
		report.Flags = append(report.Flags, fmt.Sprintf("Rapid consecutive actions: %d under %s apart", rapid, rapidActionGap))
		report.RiskScore += rapidActionWeight
	}

	return report, nil
}

// CleanupOldLogs archives (when an archiver is set) and then deletes entries older than retentionDays.
func (svc *AuditService) CleanupOldLogs(ctx context.Context, retentionDays int) (dto.CleanupResult, error) {
	if retentionDays <= 0 {
		return dto.CleanupResult{}, shared.NewValidationError("retention_days", "retention_days must be positive")
	}

	cutoff := svc.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	result := dto.CleanupResult{RetentionDays: retentionDays, Cutoff: cutoff}

	if svc.archiver != nil {
		for offset := 0; ; offset += archiveBatchSize {
			batch, err := svc.repo.ListOlderThan(ctx, cutoff, archiveBatchSize, offset)
			if err != nil {
				return result, shared.NewStoreUnavailableError("audit_cleanup", err)
			}
			if len(batch) == 0 {
				break
			}
			if _, err := svc.archiver.ArchiveAuditLogs(ctx, batch, cutoff); err != nil {
				return result, err
			}
			result.Archived += len(batch)
			if len(batch) < archiveBatchSize {
				break
			}
		}
	}

	deleted, err := svc.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return result, shared.NewStoreUnavailableError("audit_cleanup", err)
	}
	result.Deleted = deleted

	svc.write(ctx, dto.AuditEntry{
		Action:   ActionAuditCleanup,
		Resource: "audit_logs",
		Details: map[string]interface{}{
			"retention_days": retentionDays,
			"cutoff":         cutoff.Format(time.RFC3339),
			"deleted":        deleted,
			"archived":       result.Archived,
		},
		Severity: shared.SeverityLow,
		Category: shared.CategorySystem,
	})

	return result, nil
}
