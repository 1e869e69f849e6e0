package services

import (
	"context"
	"strconv"
	"time"

	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/redis/go-redis/v9"
)

// SecurityStore is the keyspace used by the rate limiter, the blocklist and the request sampler.
// Every failure comes back as a *shared.StoreUnavailableError.
type SecurityStore interface {
	RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int, error)
	PeekCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	CountSince(ctx context.Context, key string, since time.Time) (int, error)
	PopNewest(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Count(ctx context.Context, key string) (int, error)
	PutRecord(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetRecord(ctx context.Context, key string) ([]byte, error)
}

// WindowStore keeps sliding windows as sorted sets scored by epoch milliseconds.
type WindowStore struct {
	redisSvc *RedisService
}

func NewWindowStore(redisSvc *RedisService) *WindowStore {
	return &WindowStore{redisSvc: redisSvc}
}

func (s *WindowStore) client() (*redis.Client, error) {
	if s.redisSvc == nil || s.redisSvc.GetClient() == nil {
		return nil, redis.ErrClosed
	}
	return s.redisSvc.GetClient(), nil
}

func cutoffScore(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

// RecordAndCount prunes, counts, inserts and refreshes the TTL inside one MULTI/EXEC.
// The returned total includes the member just added.
func (s *WindowStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int, error) {
	client, err := s.client()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("record", err)
	}

	var card *redis.IntCmd
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoffScore(now, window))
		card = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, shared.NewStoreUnavailableError("record", err)
	}

	return int(card.Val()) + 1, nil
}

// PeekCount prunes and counts without inserting.
func (s *WindowStore) PeekCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	client, err := s.client()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("peek", err)
	}

	var card *redis.IntCmd
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoffScore(now, window))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, shared.NewStoreUnavailableError("peek", err)
	}

	return int(card.Val()), nil
}

// CountSince counts members scored at or after since, leaving older members in place.
func (s *WindowStore) CountSince(ctx context.Context, key string, since time.Time) (int, error) {
	client, err := s.client()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("count_since", err)
	}

	n, err := client.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("count_since", err)
	}
	return int(n), nil
}

func (s *WindowStore) PopNewest(ctx context.Context, key string) error {
	client, err := s.client()
	if err != nil {
		return shared.NewStoreUnavailableError("pop", err)
	}

	if err := client.ZPopMax(ctx, key, 1).Err(); err != nil {
		return shared.NewStoreUnavailableError("pop", err)
	}
	return nil
}

func (s *WindowStore) Delete(ctx context.Context, key string) error {
	if err := s.redisSvc.Delete(ctx, key); err != nil {
		return shared.NewStoreUnavailableError("delete", err)
	}
	return nil
}

func (s *WindowStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.redisSvc.Keys(ctx, pattern)
	if err != nil {
		return nil, shared.NewStoreUnavailableError("scan", err)
	}
	return keys, nil
}

func (s *WindowStore) Count(ctx context.Context, key string) (int, error) {
	client, err := s.client()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("count", err)
	}

	n, err := client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, shared.NewStoreUnavailableError("count", err)
	}
	return int(n), nil
}

func (s *WindowStore) PutRecord(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redisSvc.Set(ctx, key, value, ttl); err != nil {
		return shared.NewStoreUnavailableError("put", err)
	}
	return nil
}

// GetRecord returns nil, nil when the key is missing or expired.
func (s *WindowStore) GetRecord(ctx context.Context, key string) ([]byte, error) {
	value, err := s.redisSvc.Get(ctx, key)
	if err != nil {
		return nil, shared.NewStoreUnavailableError("get", err)
	}
	return value, nil
}
