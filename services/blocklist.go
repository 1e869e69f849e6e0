package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

func blockedKey(identifier string) string {
	return shared.BlockedKeyPrefix + identifier
}

// BlockIdentifier stores a block record that expires on its own after duration.
func (svc *RateLimitService) BlockIdentifier(ctx context.Context, identifier string, duration time.Duration, reason string) error {
	if identifier == "" {
		return shared.NewValidationError("identifier", "identifier is required")
	}
	if duration <= 0 {
		return shared.NewValidationError("duration", "duration must be positive")
	}

	now := svc.now()
	record := dto.BlockRecord{
		Identifier: identifier,
		Reason:     reason,
		BlockedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(duration).UnixMilli(),
	}

	payload, err := shared.JSON().Marshal(record)
	if err != nil {
		return err
	}

	if err := svc.store.PutRecord(ctx, blockedKey(identifier), payload, duration); err != nil {
		return err
	}

	svc.metrics.RecordBlock(blockSource(reason))
	log.WithFields(log.Fields{
		"identifier": identifier,
		"reason":     reason,
		"duration":   duration.String(),
	}).Warn("Identifier blocked")
	return nil
}

// IsBlocked never fails: a missing record or an unreachable store both mean not blocked.
func (svc *RateLimitService) IsBlocked(ctx context.Context, identifier string) dto.BlockStatus {
	if identifier == "" {
		return dto.BlockStatus{}
	}

	record, err := svc.loadBlock(ctx, blockedKey(identifier))
	if err != nil {
		log.WithField("identifier", identifier).WithError(err).Warn("Blocklist lookup failed, treating as not blocked")
		svc.metrics.RecordStoreFailure("is_blocked")
		return dto.BlockStatus{}
	}
	if record == nil || record.ExpiresAt <= svc.now().UnixMilli() {
		return dto.BlockStatus{}
	}

	return dto.BlockStatus{
		Blocked:   true,
		Reason:    record.Reason,
		ExpiresAt: record.ExpiresAt,
	}
}

func (svc *RateLimitService) UnblockIdentifier(ctx context.Context, identifier string) error {
	if identifier == "" {
		return shared.NewValidationError("identifier", "identifier is required")
	}

	if err := svc.store.Delete(ctx, blockedKey(identifier)); err != nil {
		return err
	}

	log.WithField("identifier", identifier).Info("Identifier unblocked")
	return nil
}

func (svc *RateLimitService) loadBlock(ctx context.Context, key string) (*dto.BlockRecord, error) {
	payload, err := svc.store.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	var record dto.BlockRecord
	if err := shared.JSON().Unmarshal(payload, &record); err != nil {
		// A corrupt record is treated like a missing one.
		log.WithField("key", key).WithError(err).Warn("Discarding unreadable block record")
		return nil, nil
	}
	return &record, nil
}

// activeBlocks returns unexpired blocks, newest first.
func (svc *RateLimitService) activeBlocks(ctx context.Context, include func(identifier string) bool) ([]dto.BlockRecord, error) {
	keys, err := svc.store.Keys(ctx, shared.BlockedKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	nowMs := svc.now().UnixMilli()
	blocks := make([]dto.BlockRecord, 0, len(keys))
	for _, key := range keys {
		identifier := strings.TrimPrefix(key, shared.BlockedKeyPrefix)
		if include != nil && !include(identifier) {
			continue
		}

		record, err := svc.loadBlock(ctx, key)
		if err != nil {
			return nil, err
		}
		if record == nil || record.ExpiresAt <= nowMs {
			continue
		}
		blocks = append(blocks, *record)
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].BlockedAt == blocks[j].BlockedAt {
			return blocks[i].Identifier < blocks[j].Identifier
		}
		return blocks[i].BlockedAt > blocks[j].BlockedAt
	})
	return blocks, nil
}

func blockSource(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Automated abuse"):
		return "abuse"
	case strings.HasPrefix(reason, "DDoS"):
		return "ddos"
	default:
		return "manual"
	}
}
