package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSqliteService_LoadsActiveOverrides(t *testing.T) {
	ds := &SqliteService{path: "file::memory:"}
	require.NoError(t, ds.Start())
	t.Cleanup(ds.Shutdown)

	ctx := context.Background()
	repo := repositories.NewRateLimitConfigRepository(ds.Db())
	require.NoError(t, repo.Upsert(ctx, &model.RateLimitConfig{Action: "login", MaxRequests: 3, WindowMs: 60000, IsActive: true}))
	require.NoError(t, repo.Upsert(ctx, &model.RateLimitConfig{Action: "otp", MaxRequests: 9, WindowMs: 60000, IsActive: false}))
	require.NoError(t, repo.Upsert(ctx, &model.RateLimitConfig{Action: "login", MaxRequests: 4, WindowMs: 120000, IsActive: true}))

	configs, err := ds.ActiveRateLimitConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, 4, configs["login"].MaxRequests)
	assert.Equal(t, 2*time.Minute, configs["login"].Window())
}

func TestLoadActiveRateLimitConfigs_NoDatabase(t *testing.T) {
	_, err := loadActiveRateLimitConfigs(context.Background(), nil)
	assert.True(t, shared.IsStoreUnavailable(err))
}

func TestWrapDatabaseError(t *testing.T) {
	assert.NoError(t, wrapDatabaseError("op", nil))
	assert.ErrorIs(t, wrapDatabaseError("op", gorm.ErrRecordNotFound), gorm.ErrRecordNotFound)

	for _, err := range []error{
		context.DeadlineExceeded,
		fmt.Errorf("dial tcp 127.0.0.1:5432: connect: connection refused"),
		errors.New("database is locked"),
	} {
		wrapped := wrapDatabaseError("query_audit_logs", err)
		assert.True(t, shared.IsStoreUnavailable(wrapped), err.Error())
		assert.ErrorIs(t, wrapped, err)
	}

	constraint := errors.New("UNIQUE constraint failed: rate_limit_configs.action")
	assert.Same(t, constraint, wrapDatabaseError("upsert", constraint))
}

func TestPoolSettingsFromEnv(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "")
	t.Setenv("DB_MAX_IDLE_CONNS", "")
	t.Setenv("DB_CONN_MAX_LIFETIME", "")
	assert.Equal(t, poolSettings{maxOpen: 25, maxIdle: 5, maxLifetime: 30 * time.Minute}, poolSettingsFromEnv(25))
	assert.Equal(t, 2, poolSettingsFromEnv(2).maxIdle)

	t.Setenv("DB_MAX_OPEN_CONNS", "40")
	t.Setenv("DB_MAX_IDLE_CONNS", "10")
	t.Setenv("DB_CONN_MAX_LIFETIME", "5m")
	assert.Equal(t, poolSettings{maxOpen: 40, maxIdle: 10, maxLifetime: 5 * time.Minute}, poolSettingsFromEnv(25))
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "academy_security.db?_journal_mode=WAL&_busy_timeout=5000", sqliteDSN("academy_security.db"))
	assert.Equal(t, "file::memory:", sqliteDSN("file::memory:"))
	assert.Equal(t, "x.db?mode=ro", sqliteDSN("x.db?mode=ro"))
}
