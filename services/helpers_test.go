package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisService(client)
}

func newTestLimiter(t *testing.T) (*RateLimitService, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr, redisSvc := newTestRedis(t)
	clock := newFakeClock()
	svc := NewRateLimitService(NewWindowStore(redisSvc), nil)
	svc.SetClock(clock.Now)
	return svc, mr, clock
}

// failingStore fails every call and counts how often it was reached.
type failingStore struct {
	calls int
}

func (s *failingStore) RecordAndCount(context.Context, string, time.Time, time.Duration, string) (int, error) {
	s.calls++
	return 0, errStoreDown
}

func (s *failingStore) PeekCount(context.Context, string, time.Time, time.Duration) (int, error) {
	s.calls++
	return 0, errStoreDown
}

func (s *failingStore) CountSince(context.Context, string, time.Time) (int, error) {
	s.calls++
	return 0, errStoreDown
}

func (s *failingStore) PopNewest(context.Context, string) error {
	s.calls++
	return errStoreDown
}

func (s *failingStore) Delete(context.Context, string) error {
	s.calls++
	return errStoreDown
}

func (s *failingStore) Keys(context.Context, string) ([]string, error) {
	s.calls++
	return nil, errStoreDown
}

func (s *failingStore) Count(context.Context, string) (int, error) {
	s.calls++
	return 0, errStoreDown
}

func (s *failingStore) PutRecord(context.Context, string, []byte, time.Duration) error {
	s.calls++
	return errStoreDown
}

func (s *failingStore) GetRecord(context.Context, string) ([]byte, error) {
	s.calls++
	return nil, errStoreDown
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(securityModels...))
	return db
}

func newTestAudit(t *testing.T) (*AuditService, *fakeClock, *bytes.Buffer) {
	t.Helper()
	clock := newFakeClock()
	svc := NewAuditService(repositories.NewAuditRepository(newTestDB(t)))
	svc.SetClock(clock.Now)

	var fallback bytes.Buffer
	svc.SetFallbackOutput(&fallback)
	return svc, clock, &fallback
}

// brokenAuditStore rejects writes and reads.
type brokenAuditStore struct {
	AuditStore
}

func (brokenAuditStore) Create(context.Context, *model.AuditLog) error {
	return errStoreDown
}
