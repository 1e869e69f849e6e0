package dto

import (
	"time"

	"github.com/lac-hong-legacy/academy_api/model"
)

// AuditEntry is the caller-facing shape of an audit record. Success defaults to true when nil.
type AuditEntry struct {
	UserID       string                 `json:"user_id,omitempty"`
	UserEmail    string                 `json:"user_email,omitempty"`
	UserRole     string                 `json:"user_role,omitempty"`
	Action       string                 `json:"action" validate:"required,max=100"`
	Resource     string                 `json:"resource" validate:"required,max=100"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	Success      *bool                  `json:"success,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Severity     string                 `json:"severity" validate:"required,oneof=low medium high critical"`
	Category     string                 `json:"category" validate:"required,oneof=authentication authorization data_access data_modification system security"`
}

func (e AuditEntry) Validate() error {
	return validate.Struct(e)
}

// RequestInfo carries the request-scoped fields every convenience wrapper records.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	SessionID string
	UserEmail string
	UserRole  string
}

// SecurityEvent feeds an audit entry and may raise an alert.
type SecurityEvent struct {
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
}

// AuditWriteResult reports how a best-effort audit write ended.
type AuditWriteResult struct {
	Entry     *model.AuditLog `json:"entry,omitempty"`
	Persisted bool            `json:"persisted"`
	Fallback  bool            `json:"fallback"`
	Err       error           `json:"-"`
}

type AuditLogFilter struct {
	UserID    string     `json:"user_id,omitempty" query:"user_id"`
	Action    string     `json:"action,omitempty" query:"action"`
	Resource  string     `json:"resource,omitempty" query:"resource"`
	Severity  string     `json:"severity,omitempty" query:"severity" validate:"omitempty,oneof=low medium high critical"`
	Category  string     `json:"category,omitempty" query:"category" validate:"omitempty,oneof=authentication authorization data_access data_modification system security"`
	Success   *bool      `json:"success,omitempty" query:"-"`
	StartDate *time.Time `json:"start_date,omitempty" query:"-"`
	EndDate   *time.Time `json:"end_date,omitempty" query:"-"`
	Limit     int        `json:"limit,omitempty" query:"limit" validate:"gte=0,lte=1000"`
	Offset    int        `json:"offset,omitempty" query:"offset" validate:"gte=0"`
}

func (f AuditLogFilter) Validate() error {
	return validate.Struct(f)
}

type AuditLogPage struct {
	Logs       []model.AuditLog `json:"logs"`
	TotalCount int64            `json:"total_count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type AuditStatistics struct {
	Timeframe      string           `json:"timeframe"`
	Since          time.Time        `json:"since"`
	TotalEvents    int64            `json:"total_events"`
	ByCategory     map[string]int64 `json:"by_category"`
	ByAction       map[string]int64 `json:"by_action"`
	SuccessCount   int64            `json:"success_count"`
	FailureCount   int64            `json:"failure_count"`
	CriticalEvents int64            `json:"critical_events"`
	TopUsers       []CountByKey     `json:"top_users"`
}

type SuspiciousActivityReport struct {
	UserID    string    `json:"user_id,omitempty"`
	Since     time.Time `json:"since"`
	Flags     []string  `json:"flags"`
	RiskScore int       `json:"risk_score"`
}

type CleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"required,gt=0,lte=3650"`
}

func (r CleanupRequest) Validate() error {
	return validate.Struct(r)
}

type CleanupResult struct {
	RetentionDays int       `json:"retention_days"`
	Cutoff        time.Time `json:"cutoff"`
	Deleted       int64     `json:"deleted"`
	Archived      int       `json:"archived"`
}
