package services

import (
	"context"
	"fmt"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/dto"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PostgresService struct {
	appContext.DefaultService
	db *gorm.DB

	dsn          string
	pool         poolSettings
	maxAttempts  int
	initialDelay time.Duration
}

const POSTGRES_SVC = "postgres_svc"

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds PostgresService) Db() *gorm.DB {
	return ds.db
}

// Configure takes DATABASE_URL verbatim, otherwise builds a DSN from the DB_* variables.
func (ds *PostgresService) Configure(ctx *appContext.Context) error {
	ds.dsn = os.Getenv("DATABASE_URL")
	if ds.dsn == "" {
		ds.dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			envOr("DB_HOST", "localhost"),
			envOr("DB_USER", "postgres"),
			envOr("DB_PASSWORD", "postgres"),
			envOr("DB_NAME", "academy_api"),
			envOr("DB_PORT", "5432"),
			envOr("DB_SSLMODE", "disable"),
			envOr("DB_TIMEZONE", "UTC"))
	}
	ds.pool = poolSettingsFromEnv(25)
	ds.maxAttempts = 10
	ds.initialDelay = time.Second

	return ds.DefaultService.Configure(ctx)
}

// Start waits for the database with capped exponential backoff, then migrates.
func (ds *PostgresService) Start() error {
	db, err := ds.connect()
	if err != nil {
		return err
	}
	ds.db = db
	return prepareDatabase(ds.db, "postgres", ds.pool)
}

func (ds *PostgresService) connect() (*gorm.DB, error) {
	delay := ds.initialDelay
	var lastErr error

	for attempt := 1; attempt <= ds.maxAttempts; attempt++ {
		db, err := gorm.Open(postgres.Open(ds.dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})
		if err == nil {
			err = ping(db)
		}
		if err == nil {
			return db, nil
		}
		lastErr = err

		logEntry := log.WithError(err).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": ds.maxAttempts,
		})
		if attempt == ds.maxAttempts {
			logEntry.Error("Giving up on database connection")
			break
		}
		logEntry.WithField("retry_in", delay.String()).Warn("Database not reachable yet")

		time.Sleep(delay)
		delay *= 2
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
	}

	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", ds.maxAttempts, lastErr)
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (ds *PostgresService) Shutdown() {
	closeDatabase(ds.db)
}

func (ds *PostgresService) ActiveRateLimitConfigs(ctx context.Context) (map[string]dto.RateLimitConfig, error) {
	return loadActiveRateLimitConfigs(ctx, ds.db)
}
