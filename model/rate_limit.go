package model

import "time"

// RateLimitConfig rows overlay the built-in action configs once at startup.
type RateLimitConfig struct {
	ID                     string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Action                 string    `json:"action" gorm:"uniqueIndex;not null;size:50"`
	MaxRequests            int       `json:"max_requests" gorm:"not null"`
	WindowMs               int64     `json:"window_ms" gorm:"not null"`
	SkipSuccessfulRequests bool      `json:"skip_successful_requests" gorm:"default:false;not null"`
	SkipFailedRequests     bool      `json:"skip_failed_requests" gorm:"default:false;not null"`
	Description            string    `json:"description" gorm:"type:text"`
	IsActive               bool      `json:"is_active" gorm:"not null"`
	CreatedAt              time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time `json:"updated_at" gorm:"not null"`
}
