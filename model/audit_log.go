package model

import (
	"encoding/json"
	"time"
)

// AuditLog is one append-only security audit record.
type AuditLog struct {
	ID           string          `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID       string          `json:"user_id,omitempty" gorm:"index;size:255"`
	UserEmail    string          `json:"user_email,omitempty" gorm:"size:255"`
	UserRole     string          `json:"user_role,omitempty" gorm:"size:50"`
	Action       string          `json:"action" gorm:"index;not null;size:100"`
	Resource     string          `json:"resource" gorm:"not null;size:100"`
	ResourceID   string          `json:"resource_id,omitempty" gorm:"size:255"`
	Details      json.RawMessage `json:"details,omitempty" gorm:"type:text"`
	IPAddress    string          `json:"ip_address,omitempty" gorm:"size:64"`
	Country      string          `json:"country,omitempty" gorm:"size:100"`
	City         string          `json:"city,omitempty" gorm:"size:100"`
	UserAgent    string          `json:"user_agent,omitempty" gorm:"type:text"`
	SessionID    string          `json:"session_id,omitempty" gorm:"size:255"`
	Success      bool            `json:"success" gorm:"not null"`
	ErrorMessage string          `json:"error_message,omitempty" gorm:"type:text"`
	Severity     string          `json:"severity" gorm:"index;not null;size:20"`
	Category     string          `json:"category" gorm:"index;not null;size:30"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index;not null"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
