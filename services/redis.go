package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/redis/go-redis/v9"
)

const REDIS_SVC = "redis_svc"

var errRedisNotConfigured = errors.New("redis client not initialized")

// RedisService owns the shared client behind the counter store, the blocklist and the request samples.
type RedisService struct {
	appContext.DefaultService
	redis *redis.Client
}

func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{redis: client}
}

func (svc RedisService) Id() string {
	return REDIS_SVC
}

// redisOptionsFromEnv reads REDIS_URL, or REDIS_ADDR/REDIS_PASSWORD/REDIS_DB. Call timeouts stay short
// so a hung server turns into a fail-open decision instead of a stalled request.
func redisOptionsFromEnv() (*redis.Options, error) {
	timeout := 500 * time.Millisecond
	if ms, err := strconv.Atoi(os.Getenv("REDIS_TIMEOUT_MS")); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	var opts *redis.Options
	if url := os.Getenv("REDIS_URL"); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		}
		if raw := os.Getenv("REDIS_DB"); raw != "" {
			db, err := strconv.Atoi(raw)
			if err != nil || db < 0 {
				return nil, fmt.Errorf("REDIS_DB: invalid database index %q", raw)
			}
			opts.DB = db
		}
	}

	opts.DialTimeout = 2 * timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	return opts, nil
}

func (svc *RedisService) Configure(ctx *appContext.Context) error {
	if svc.redis == nil {
		opts, err := redisOptionsFromEnv()
		if err != nil {
			return err
		}
		svc.redis = redis.NewClient(opts)
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *RedisService) Start() error {
	if svc.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", svc.redis.Options().Addr, err)
	}
	return nil
}

func (svc *RedisService) Shutdown() {
	if svc.redis != nil {
		_ = svc.redis.Close()
	}
}

func (svc *RedisService) client() (*redis.Client, error) {
	if svc == nil || svc.redis == nil {
		return nil, errRedisNotConfigured
	}
	return svc.redis, nil
}

func (svc *RedisService) GetClient() *redis.Client {
	c, _ := svc.client()
	return c
}

func (svc *RedisService) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c, err := svc.client()
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, expiration).Err()
}

// Get returns nil, nil for a missing key.
func (svc *RedisService) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := svc.client()
	if err != nil {
		return nil, err
	}
	value, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (svc *RedisService) Delete(ctx context.Context, keys ...string) error {
	c, err := svc.client()
	if err != nil {
		return err
	}
	return c.Del(ctx, keys...).Err()
}

func (svc *RedisService) TTL(ctx context.Context, key string) (time.Duration, error) {
	c, err := svc.client()
	if err != nil {
		return 0, err
	}
	return c.TTL(ctx, key).Result()
}

// Keys walks the keyspace with SCAN.
func (svc *RedisService) Keys(ctx context.Context, pattern string) ([]string, error) {
	c, err := svc.client()
	if err != nil {
		return nil, err
	}

	var keys []string
	iter := c.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
