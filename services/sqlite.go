package services

import (
	"context"
	"os"
	"strings"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/dto"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteService backs single-node and development deployments.
type SqliteService struct {
	appContext.DefaultService
	db *gorm.DB

	path string
}

const SQLITE_SVC = "sqlite_svc"

func (ds SqliteService) Id() string {
	return SQLITE_SVC
}

func (ds SqliteService) Db() *gorm.DB {
	return ds.db
}

func (ds *SqliteService) Configure(ctx *appContext.Context) error {
	ds.path = os.Getenv("DB_DATABASE")
	if ds.path == "" {
		ds.path = "academy_security.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// sqliteDSN enables WAL and a busy timeout unless the path already carries options.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") || strings.HasPrefix(path, "file::memory:") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

func (ds *SqliteService) Start() (err error) {
	ds.db, err = gorm.Open(sqlite.Open(sqliteDSN(ds.path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return err
	}

	// sqlite allows one writer at a time.
	pool := poolSettingsFromEnv(1)
	pool.maxOpen, pool.maxIdle = 1, 1
	return prepareDatabase(ds.db, "sqlite", pool)
}

func (ds *SqliteService) Shutdown() {
	closeDatabase(ds.db)
}

func (ds *SqliteService) ActiveRateLimitConfigs(ctx context.Context) (map[string]dto.RateLimitConfig, error) {
	return loadActiveRateLimitConfigs(ctx, ds.db)
}
