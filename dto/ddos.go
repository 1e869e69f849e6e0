package dto

type DDoSRequestMetrics struct {
	RequestsLastMinute int  `json:"requests_last_minute"`
	AbuseScore         int  `json:"abuse_score"`
	VolumeScore        int  `json:"volume_score"`
	UserAgentScore     int  `json:"user_agent_score"`
	Whitelisted        bool `json:"whitelisted"`
	Blocked            bool `json:"blocked"`
}

type DDoSCheckResult struct {
	Allowed   bool               `json:"allowed"`
	RiskScore int                `json:"risk_score"`
	Reasons   []string           `json:"reasons,omitempty"`
	Metrics   DDoSRequestMetrics `json:"metrics"`
}

type DDoSMetrics struct {
	TrackedIPs               int              `json:"tracked_ips"`
	BlockedIPs               int              `json:"blocked_ips"`
	TopIPs                   []IdentifierHits `json:"top_ips"`
	RecentBlocks             []BlockRecord    `json:"recent_blocks"`
	AverageRequestsPerMinute float64          `json:"average_requests_per_minute"`
}
