package handlers

import (
	"context"
	"time"

	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/minio/minio-go/v7"
)

type RateLimitServiceInterface interface {
	GetStatistics(ctx context.Context) dto.RateLimitStatistics
	GetAllRateLimitKeys(ctx context.Context) []string
	Configs() map[string]dto.RateLimitConfig
	GetRateLimitStatus(ctx context.Context, identifier, action string, override *dto.RateLimitConfig) (dto.RateLimitResult, error)
	ClearRateLimit(ctx context.Context, identifier, action string) error
	BlockIdentifier(ctx context.Context, identifier string, duration time.Duration, reason string) error
	IsBlocked(ctx context.Context, identifier string) dto.BlockStatus
	UnblockIdentifier(ctx context.Context, identifier string) error
}

type AbuseDetectorInterface interface {
	DetectAbuse(ctx context.Context, identifier string) dto.AbuseAssessment
}

type DDoSServiceInterface interface {
	GetMetrics(ctx context.Context) dto.DDoSMetrics
	UnblockIP(ctx context.Context, ip string) error
}

type AuditServiceInterface interface {
	QueryLogs(ctx context.Context, filter dto.AuditLogFilter) ([]model.AuditLog, int64, error)
	GetStatistics(ctx context.Context, timeframe string) (dto.AuditStatistics, error)
	DetectSuspiciousActivity(ctx context.Context, userID string) (dto.SuspiciousActivityReport, error)
	CleanupOldLogs(ctx context.Context, retentionDays int) (dto.CleanupResult, error)
}

type AuditArchiveInterface interface {
	ListAuditArchives(ctx context.Context) ([]minio.ObjectInfo, error)
}
