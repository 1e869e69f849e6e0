package seeders

import (
	"context"
	"log"

	"gorm.io/gorm"
)

// MainSeeder coordinates all seeding operations
type MainSeeder struct {
	db *gorm.DB
}

// NewMainSeeder creates a new main seeder
func NewMainSeeder(db *gorm.DB) *MainSeeder {
	return &MainSeeder{db: db}
}

// SeedAll runs all seeders in the correct order
func (s *MainSeeder) SeedAll(ctx context.Context) error {
	log.Println("Starting database seeding...")

	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		log.Printf("Migration failed: %v", err)
		return err
	}

	if _, err := NewRateLimitSeeder(s.db).SeedRateLimitConfigs(ctx); err != nil {
		log.Printf("Rate limit config seeding failed: %v", err)
		return err
	}

	log.Println("Database seeding completed successfully!")
	return nil
}

// SeedRateLimitsOnly seeds only rate limit configs
func (s *MainSeeder) SeedRateLimitsOnly(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return err
	}
	_, err := NewRateLimitSeeder(s.db).SeedRateLimitConfigs(ctx)
	return err
}
