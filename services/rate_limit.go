package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

// RateLimitService is the sliding-window rate limiter and blocklist.
// Counting never takes an in-process lock; atomicity comes from the store transaction.
type RateLimitService struct {
	appContext.DefaultService

	store   SecurityStore
	configs map[string]dto.RateLimitConfig
	now     func() time.Time

	configSource RateLimitConfigSource
	metrics      *MonitoringService
}

// RateLimitConfigSource supplies persisted overrides for the built-in action configs.
type RateLimitConfigSource interface {
	ActiveRateLimitConfigs(ctx context.Context) (map[string]dto.RateLimitConfig, error)
}

const RATE_LIMIT_SVC = "rate_limit_svc"

const topEntriesLimit = 10

// DefaultRateLimitConfigs returns a fresh copy of the built-in action table.
func DefaultRateLimitConfigs() map[string]dto.RateLimitConfig {
	return map[string]dto.RateLimitConfig{
		"login":          {WindowMs: (15 * time.Minute).Milliseconds(), MaxRequests: 5},
		"registration":   {WindowMs: time.Hour.Milliseconds(), MaxRequests: 3},
		"api":            {WindowMs: time.Minute.Milliseconds(), MaxRequests: 60, SkipSuccessfulRequests: true},
		"payment":        {WindowMs: time.Hour.Milliseconds(), MaxRequests: 10},
		"otp":            {WindowMs: (15 * time.Minute).Milliseconds(), MaxRequests: 5},
		"password_reset": {WindowMs: time.Hour.Milliseconds(), MaxRequests: 3},
		"data_export":    {WindowMs: time.Hour.Milliseconds(), MaxRequests: 5},
		"admin":          {WindowMs: time.Minute.Milliseconds(), MaxRequests: 120},
	}
}

// NewRateLimitService builds a limiter over store. A nil configs map means the built-in defaults.
func NewRateLimitService(store SecurityStore, configs map[string]dto.RateLimitConfig) *RateLimitService {
	if configs == nil {
		configs = DefaultRateLimitConfigs()
	}
	return &RateLimitService{
		store:   store,
		configs: configs,
		now:     time.Now,
	}
}

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	if svc.store == nil {
		redisSvc, ok := ctx.Service(REDIS_SVC).(*RedisService)
		if !ok {
			return fmt.Errorf("rate limit service requires %s", REDIS_SVC)
		}
		svc.store = NewWindowStore(redisSvc)
	}
	if svc.configs == nil {
		svc.configs = DefaultRateLimitConfigs()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.configSource == nil {
		if dbSvc := databaseService(ctx); dbSvc != nil {
			svc.configSource = dbSvc
		}
	}
	if svc.metrics == nil {
		svc.metrics, _ = ctx.Service(MONITORING_SVC).(*MonitoringService)
	}
	return svc.DefaultService.Configure(ctx)
}

// Start overlays persisted configs once. The map is read-only afterwards.
func (svc *RateLimitService) Start() error {
	svc.metrics.WatchSecurityState(svc)

	if svc.configSource == nil {
		return nil
	}

	overrides, err := svc.configSource.ActiveRateLimitConfigs(context.Background())
	if err != nil {
		log.WithError(err).Warn("Failed to load persisted rate limit configs, using defaults")
		return nil
	}

	for action, cfg := range overrides {
		if err := validateRateLimitConfig(action, cfg); err != nil {
			return err
		}
		svc.configs[action] = cfg
	}

	log.WithField("overrides", len(overrides)).Info("Rate limit configs loaded")
	return nil
}

// SetClock replaces the time source.
func (svc *RateLimitService) SetClock(now func() time.Time) {
	svc.now = now
}

// SetMetrics attaches the monitoring service used to count decisions.
func (svc *RateLimitService) SetMetrics(metrics *MonitoringService) {
	svc.metrics = metrics
}

// Config returns the effective config for action.
func (svc *RateLimitService) Config(action string) (dto.RateLimitConfig, bool) {
	cfg, ok := svc.configs[action]
	return cfg, ok
}

func (svc *RateLimitService) Configs() map[string]dto.RateLimitConfig {
	out := make(map[string]dto.RateLimitConfig, len(svc.configs))
	for action, cfg := range svc.configs {
		out[action] = cfg
	}
	return out
}

func validateRateLimitConfig(action string, cfg dto.RateLimitConfig) error {
	if cfg.WindowMs <= 0 {
		return shared.NewConfigurationError(action, "windowMs must be positive")
	}
	if cfg.MaxRequests <= 0 {
		return shared.NewConfigurationError(action, "maxRequests must be positive")
	}
	return nil
}

func (svc *RateLimitService) resolveConfig(action string, override *dto.RateLimitConfig) (dto.RateLimitConfig, error) {
	if override != nil {
		if err := validateRateLimitConfig(action, *override); err != nil {
			return dto.RateLimitConfig{}, err
		}
		return *override, nil
	}

	cfg, ok := svc.configs[action]
	if !ok {
		return dto.RateLimitConfig{}, shared.NewConfigurationError(action, "unknown action")
	}
	return cfg, nil
}

func rateLimitKey(action, identifier string) string {
	return shared.RateLimitKeyPrefix + action + ":" + identifier
}

// splitRateLimitKey parses rate_limit:{action}:{identifier}. Action names never contain a colon.
func splitRateLimitKey(key string) (action, identifier string, ok bool) {
	rest := strings.TrimPrefix(key, shared.RateLimitKeyPrefix)
	if rest == key {
		return "", "", false
	}
	idx := strings.Index(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func windowMember(now time.Time) string {
	return fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString())
}

func buildResult(cfg dto.RateLimitConfig, totalHits int, now time.Time) dto.RateLimitResult {
	remaining := cfg.MaxRequests - totalHits
	if remaining < 0 {
		remaining = 0
	}
	return dto.RateLimitResult{
		Allowed:   totalHits <= cfg.MaxRequests,
		Remaining: remaining,
		ResetTime: now.Add(cfg.Window()).UnixMilli(),
		TotalHits: totalHits,
	}
}

// CheckRateLimit records one hit for identifier under action and reports whether it fits the window.
// Unknown actions fail before the store is touched. Store failures fail open.
func (svc *RateLimitService) CheckRateLimit(ctx context.Context, identifier, action string, override *dto.RateLimitConfig) (dto.RateLimitResult, error) {
	cfg, err := svc.resolveConfig(action, override)
	if err != nil {
		return dto.RateLimitResult{}, err
	}

	now := svc.now()
	if identifier == "" {
		return dto.RateLimitResult{
			Allowed:   false,
			ResetTime: now.Add(cfg.Window()).UnixMilli(),
		}, shared.NewValidationError("identifier", "identifier is required")
	}

	totalHits, err := svc.store.RecordAndCount(ctx, rateLimitKey(action, identifier), now, cfg.Window(), windowMember(now))
	if err != nil {
		log.WithFields(log.Fields{
			"action":     action,
			"identifier": identifier,
		}).WithError(err).Warn("Rate limit store unavailable, failing open")
		svc.metrics.RecordStoreFailure("check_rate_limit")
		svc.metrics.RecordRateLimitDecision(action, true)
		return dto.RateLimitResult{
			Allowed:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetTime: now.Add(cfg.Window()).UnixMilli(),
			TotalHits: 1,
		}, nil
	}

	result := buildResult(cfg, totalHits, now)
	svc.metrics.RecordRateLimitDecision(action, result.Allowed)
	if !result.Allowed {
		log.WithFields(log.Fields{
			"action":     action,
			"identifier": identifier,
			"total_hits": totalHits,
		}).Info("Rate limit exceeded")
	}
	return result, nil
}

// GetRateLimitStatus reports the current window without consuming quota.
func (svc *RateLimitService) GetRateLimitStatus(ctx context.Context, identifier, action string, override *dto.RateLimitConfig) (dto.RateLimitResult, error) {
	cfg, err := svc.resolveConfig(action, override)
	if err != nil {
		return dto.RateLimitResult{}, err
	}

	now := svc.now()
	if identifier == "" {
		return dto.RateLimitResult{
			Allowed:   false,
			ResetTime: now.Add(cfg.Window()).UnixMilli(),
		}, shared.NewValidationError("identifier", "identifier is required")
	}

	count, err := svc.store.PeekCount(ctx, rateLimitKey(action, identifier), now, cfg.Window())
	if err != nil {
		log.WithFields(log.Fields{
			"action":     action,
			"identifier": identifier,
		}).WithError(err).Warn("Rate limit store unavailable, reporting full quota")
		svc.metrics.RecordStoreFailure("rate_limit_status")
		return dto.RateLimitResult{
			Allowed:   true,
			Remaining: cfg.MaxRequests,
			ResetTime: now.Add(cfg.Window()).UnixMilli(),
			TotalHits: 0,
		}, nil
	}

	return buildResult(cfg, count, now), nil
}

// RecordSuccess gives back the newest hit when the action skips successful requests.
func (svc *RateLimitService) RecordSuccess(ctx context.Context, identifier, action string) {
	svc.RecordOutcome(ctx, identifier, action, nil, true)
}

// RecordFailure gives back the newest hit when the action skips failed requests.
func (svc *RateLimitService) RecordFailure(ctx context.Context, identifier, action string) {
	svc.RecordOutcome(ctx, identifier, action, nil, false)
}

// RecordOutcome adjusts the window with the skip flags of the config the request was checked
// against, so callers that passed an override to CheckRateLimit must pass the same one here.
func (svc *RateLimitService) RecordOutcome(ctx context.Context, identifier, action string, override *dto.RateLimitConfig, success bool) {
	cfg, err := svc.resolveConfig(action, override)
	if err != nil {
		return
	}
	switch {
	case success && cfg.SkipSuccessfulRequests:
		svc.popNewest(ctx, identifier, action, "record_success")
	case !success && cfg.SkipFailedRequests:
		svc.popNewest(ctx, identifier, action, "record_failure")
	}
}

func (svc *RateLimitService) popNewest(ctx context.Context, identifier, action, op string) {
	if identifier == "" {
		return
	}
	if err := svc.store.PopNewest(ctx, rateLimitKey(action, identifier)); err != nil {
		log.WithFields(log.Fields{
			"action":     action,
			"identifier": identifier,
		}).WithError(err).Warn("Failed to adjust rate limit window")
		svc.metrics.RecordStoreFailure(op)
	}
}

// ClearRateLimit drops the whole window for identifier under action.
func (svc *RateLimitService) ClearRateLimit(ctx context.Context, identifier, action string) error {
	if identifier == "" {
		return shared.NewValidationError("identifier", "identifier is required")
	}
	if action == "" {
		return shared.NewValidationError("action", "action is required")
	}

	if err := svc.store.Delete(ctx, rateLimitKey(action, identifier)); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"action":     action,
		"identifier": identifier,
	}).Info("Rate limit cleared")
	return nil
}

// GetAllRateLimitKeys lists every live rate limit key, or nothing when the store is down.
func (svc *RateLimitService) GetAllRateLimitKeys(ctx context.Context) []string {
	keys, err := svc.store.Keys(ctx, shared.RateLimitKeyPrefix+"*")
	if err != nil {
		log.WithError(err).Warn("Failed to list rate limit keys")
		svc.metrics.RecordStoreFailure("list_rate_limit_keys")
		return []string{}
	}
	sort.Strings(keys)
	return keys
}

// GetStatistics summarises every window and block. Any store failure yields empty statistics.
func (svc *RateLimitService) GetStatistics(ctx context.Context) dto.RateLimitStatistics {
	stats, err := svc.collectStatistics(ctx, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to collect rate limit statistics")
		svc.metrics.RecordStoreFailure("rate_limit_statistics")
		return dto.EmptyRateLimitStatistics()
	}
	return stats
}

// collectStatistics scans windows and blocks, keeping only identifiers accepted by include.
func (svc *RateLimitService) collectStatistics(ctx context.Context, include func(identifier string) bool) (dto.RateLimitStatistics, error) {
	stats := dto.EmptyRateLimitStatistics()
	now := svc.now()

	keys, err := svc.store.Keys(ctx, shared.RateLimitKeyPrefix+"*")
	if err != nil {
		return stats, err
	}
	sort.Strings(keys)

	var perMinute float64
	for _, key := range keys {
		action, identifier, ok := splitRateLimitKey(key)
		if !ok || (include != nil && !include(identifier)) {
			continue
		}

		cfg, known := svc.configs[action]
		var hits int
		if known {
			hits, err = svc.store.PeekCount(ctx, key, now, cfg.Window())
		} else {
			hits, err = svc.store.Count(ctx, key)
		}
		if err != nil {
			return dto.EmptyRateLimitStatistics(), err
		}
		if hits == 0 {
			continue
		}

		stats.TotalActiveRateLimits++
		stats.RateLimitsByAction[action]++
		stats.TopAbusiveIdentifiers = append(stats.TopAbusiveIdentifiers, dto.IdentifierHits{
			Key:        key,
			Action:     action,
			Identifier: identifier,
			Hits:       hits,
		})

		if known {
			perMinute += float64(hits) / cfg.Window().Minutes()
			if hits >= cfg.MaxRequests {
				stats.SuspiciousPatterns++
			}
		}
	}

	// keys are already sorted, so a stable sort keeps key order among equal hit counts
	sort.SliceStable(stats.TopAbusiveIdentifiers, func(i, j int) bool {
		return stats.TopAbusiveIdentifiers[i].Hits > stats.TopAbusiveIdentifiers[j].Hits
	})
	if len(stats.TopAbusiveIdentifiers) > topEntriesLimit {
		stats.TopAbusiveIdentifiers = stats.TopAbusiveIdentifiers[:topEntriesLimit]
	}

	if stats.TotalActiveRateLimits > 0 {
		stats.AverageRequestsPerMinute = math.Round(perMinute/float64(stats.TotalActiveRateLimits)*100) / 100
	}

	blocks, err := svc.activeBlocks(ctx, include)
	if err != nil {
		return dto.EmptyRateLimitStatistics(), err
	}
	stats.TotalBlockedIdentifiers = len(blocks)
	if len(blocks) > topEntriesLimit {
		blocks = blocks[:topEntriesLimit]
	}
	stats.RecentBlocks = blocks

	return stats, nil
}
