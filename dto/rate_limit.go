package dto

import "time"

// RateLimitConfig describes the sliding window applied to one action.
type RateLimitConfig struct {
	WindowMs               int64 `json:"window_ms"`
	MaxRequests            int   `json:"max_requests"`
	SkipSuccessfulRequests bool  `json:"skip_successful_requests"`
	SkipFailedRequests     bool  `json:"skip_failed_requests"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

type RateLimitResult struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"` // epoch ms
	TotalHits int   `json:"total_hits"`
}

// BlockRecord is the JSON value stored under blocked:{identifier}.
type BlockRecord struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
	BlockedAt  int64  `json:"blocked_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

type BlockStatus struct {
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type IdentifierHits struct {
	Key        string `json:"key"`
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	Hits       int    `json:"hits"`
}

type RateLimitStatistics struct {
	TotalActiveRateLimits    int              `json:"total_active_rate_limits"`
	TotalBlockedIdentifiers  int              `json:"total_blocked_identifiers"`
	RateLimitsByAction       map[string]int   `json:"rate_limits_by_action"`
	TopAbusiveIdentifiers    []IdentifierHits `json:"top_abusive_identifiers"`
	RecentBlocks             []BlockRecord    `json:"recent_blocks"`
	AverageRequestsPerMinute float64          `json:"average_requests_per_minute"`
	SuspiciousPatterns       int              `json:"suspicious_patterns"`
}

// EmptyRateLimitStatistics is what a degraded store reports.
func EmptyRateLimitStatistics() RateLimitStatistics {
	return RateLimitStatistics{
		RateLimitsByAction:    map[string]int{},
		TopAbusiveIdentifiers: []IdentifierHits{},
		RecentBlocks:          []BlockRecord{},
	}
}

type AbuseAssessment struct {
	IsAbusive bool     `json:"is_abusive"`
	Reasons   []string `json:"reasons"`
	RiskScore int      `json:"risk_score"`
}

// Admin requests

type BlockIdentifierRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	DurationMs int64  `json:"duration_ms" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

func (r BlockIdentifierRequest) Validate() error {
	return validate.Struct(r)
}

type ClearRateLimitRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Action     string `json:"action" validate:"required,action_name"`
}

func (r ClearRateLimitRequest) Validate() error {
	return validate.Struct(r)
}
