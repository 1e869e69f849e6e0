package seeders

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"gorm.io/gorm"
)

var actionDescriptions = map[string]string{
	"login":          "Login attempts per client",
	"registration":   "Account registrations per client",
	"api":            "General API traffic; successful requests are refunded",
	"payment":        "Payment attempts",
	"otp":            "One-time password verifications",
	"password_reset": "Password reset requests",
	"data_export":    "Data export requests",
	"admin":          "Administrative operations",
}

// Models lists the tables the seeder writes to.
func Models() []interface{} {
	return []interface{}{&model.RateLimitConfig{}, &model.AuditLog{}}
}

// RateLimitSeeder writes the built-in action configs as editable rows.
type RateLimitSeeder struct {
	repo *repositories.RateLimitConfigRepository
}

func NewRateLimitSeeder(db *gorm.DB) *RateLimitSeeder {
	return &RateLimitSeeder{repo: repositories.NewRateLimitConfigRepository(db)}
}

// SeedRateLimitConfigs upserts one active row per default action and returns how many were written.
func (s *RateLimitSeeder) SeedRateLimitConfigs(ctx context.Context) (int, error) {
	defaults := services.DefaultRateLimitConfigs()

	actions := make([]string, 0, len(defaults))
	for action := range defaults {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	for _, action := range actions {
		cfg := defaults[action]
		row := &model.RateLimitConfig{
			Action:                 action,
			MaxRequests:            cfg.MaxRequests,
			WindowMs:               cfg.WindowMs,
			SkipSuccessfulRequests: cfg.SkipSuccessfulRequests,
			SkipFailedRequests:     cfg.SkipFailedRequests,
			Description:            actionDescriptions[action],
			IsActive:               true,
		}
		if err := s.repo.Upsert(ctx, row); err != nil {
			return 0, fmt.Errorf("seed rate limit config %s: %w", action, err)
		}
		log.Printf("Seeded rate limit config: %s (%d per %dms)", action, cfg.MaxRequests, cfg.WindowMs)
	}

	return len(actions), nil
}
