package services

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DatabaseService is implemented by PostgresService and SqliteService.
type DatabaseService interface {
	Db() *gorm.DB
	ActiveRateLimitConfigs(ctx context.Context) (map[string]dto.RateLimitConfig, error)
}

// securityModels are migrated by whichever database service is registered.
var securityModels = []interface{}{
	&model.AuditLog{},
	&model.RateLimitConfig{},
}

// databaseService finds the registered database service, preferring postgres.
func databaseService(ctx *appContext.Context) DatabaseService {
	if svc, ok := ctx.Service(POSTGRES_SVC).(*PostgresService); ok && svc != nil {
		return svc
	}
	if svc, ok := ctx.Service(SQLITE_SVC).(*SqliteService); ok && svc != nil {
		return svc
	}
	return nil
}

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

func poolSettingsFromEnv(defaultMaxOpen int) poolSettings {
	settings := poolSettings{maxOpen: defaultMaxOpen, maxIdle: 5, maxLifetime: 30 * time.Minute}
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_OPEN_CONNS")); err == nil && n > 0 {
		settings.maxOpen = n
	}
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_IDLE_CONNS")); err == nil && n >= 0 {
		settings.maxIdle = n
	}
	if d, err := time.ParseDuration(os.Getenv("DB_CONN_MAX_LIFETIME")); err == nil && d > 0 {
		settings.maxLifetime = d
	}
	if settings.maxIdle > settings.maxOpen {
		settings.maxIdle = settings.maxOpen
	}
	return settings
}

// prepareDatabase applies the pool settings and migrates the audit and rate limit tables.
func prepareDatabase(db *gorm.DB, driver string, pool poolSettings) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pool.maxOpen)
	sqlDB.SetMaxIdleConns(pool.maxIdle)
	sqlDB.SetConnMaxLifetime(pool.maxLifetime)

	if err := db.AutoMigrate(securityModels...); err != nil {
		log.WithError(err).WithField("driver", driver).Error("Failed to migrate security tables")
		return err
	}

	log.WithFields(log.Fields{
		"driver":   driver,
		"max_open": pool.maxOpen,
		"max_idle": pool.maxIdle,
		"lifetime": pool.maxLifetime.String(),
		"tables":   len(securityModels),
	}).Info("Database connected and migrated")
	return nil
}

func closeDatabase(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// connectionErrorMarkers are driver messages that mean the database itself is unreachable.
var connectionErrorMarkers = []string{
	"connection refused",
	"broken pipe",
	"database is locked",
	"server closed the connection",
	"no such host",
	"i/o timeout",
}

// wrapDatabaseError maps a gorm failure onto the security error types. Anything else stays as is.
func wrapDatabaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, gorm.ErrInvalidDB) {
		return shared.NewStoreUnavailableError(op, err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			log.WithError(err).WithField("op", op).Error("Database unreachable")
			return shared.NewStoreUnavailableError(op, err)
		}
	}

	log.WithError(err).WithField("op", op).Warn("Database operation failed")
	return err
}

func loadActiveRateLimitConfigs(ctx context.Context, db *gorm.DB) (map[string]dto.RateLimitConfig, error) {
	if db == nil {
		return nil, shared.NewStoreUnavailableError("load_rate_limit_configs", gorm.ErrInvalidDB)
	}

	rows, err := repositories.NewRateLimitConfigRepository(db).GetActive(ctx)
	if err != nil {
		return nil, wrapDatabaseError("load_rate_limit_configs", err)
	}

	configs := make(map[string]dto.RateLimitConfig, len(rows))
	for _, row := range rows {
		configs[row.Action] = dto.RateLimitConfig{
			WindowMs:               row.WindowMs,
			MaxRequests:            row.MaxRequests,
			SkipSuccessfulRequests: row.SkipSuccessfulRequests,
			SkipFailedRequests:     row.SkipFailedRequests,
		}
	}
	return configs, nil
}
