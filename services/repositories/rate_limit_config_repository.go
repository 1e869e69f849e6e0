package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lac-hong-legacy/academy_api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitConfigRepository handles persisted rate limit overrides
type RateLimitConfigRepository struct {
	BaseRepository
}

func NewRateLimitConfigRepository(db *gorm.DB) *RateLimitConfigRepository {
	return &RateLimitConfigRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *RateLimitConfigRepository) GetActive(ctx context.Context) ([]model.RateLimitConfig, error) {
	var configs []model.RateLimitConfig
	err := r.withContext(ctx).Where("is_active = ?", true).Order("action ASC").Find(&configs).Error
	return configs, err
}

// Upsert inserts cfg or replaces the row with the same action.
func (r *RateLimitConfigRepository) Upsert(ctx context.Context, cfg *model.RateLimitConfig) error {
	now := time.Now().UTC()
	if cfg.ID == "" {
		id, _ := uuid.NewV7()
		cfg.ID = id.String()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	return r.withContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "action"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"max_requests", "window_ms", "skip_successful_requests", "skip_failed_requests",
			"description", "is_active", "updated_at",
		}),
	}).Create(cfg).Error
}
