package services

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

const DDOS_SVC = "ddos_svc"

type DDoSConfig struct {
	VolumeWindow           time.Duration
	HighVolumeThreshold    int
	HighVolumeScore        int
	ExtremeVolumeThreshold int
	ExtremeVolumeScore     int

	MissingUserAgentScore    int
	SuspiciousUserAgentScore int

	DenyThreshold int
	BlockDuration time.Duration

	// Whitelist is checked in addition to loopback and internal ranges.
	Whitelist []*net.IPNet
}

func DefaultDDoSConfig() DDoSConfig {
	return DDoSConfig{
		VolumeWindow:             time.Minute,
		HighVolumeThreshold:      100,
		HighVolumeScore:          30,
		ExtremeVolumeThreshold:   300,
		ExtremeVolumeScore:       60,
		MissingUserAgentScore:    15,
		SuspiciousUserAgentScore: 20,
		DenyThreshold:            80,
		BlockDuration:            15 * time.Minute,
	}
}

var suspiciousUserAgents = []string{
	"bot", "crawler", "spider", "scrapy", "curl", "wget", "python-requests", "go-http-client", "httpclient", "masscan", "sqlmap", "nikto",
}

// internalBlocks are always trusted: loopback, RFC1918, CGNAT, link-local and ULA.
var internalBlocks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid internal CIDR: " + cidr)
		}
		blocks = append(blocks, block)
	}
	return blocks
}()

// ParseWhitelist turns IP or CIDR strings into networks. Bare IPs become /32 or /128.
func ParseWhitelist(entries []string) ([]*net.IPNet, error) {
	result := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid whitelist entry %q", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, cidr, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist CIDR %q: %w", e, err)
		}
		result = append(result, cidr)
	}
	return result, nil
}

type DDoSService struct {
	appContext.DefaultService

	rateLimitSvc *RateLimitService
	abuseSvc     *AbuseDetectorService
	auditSvc     *AuditService
	metrics      *MonitoringService

	config DDoSConfig
}

func NewDDoSService(rateLimitSvc *RateLimitService, abuseSvc *AbuseDetectorService, config DDoSConfig) *DDoSService {
	return &DDoSService{
		rateLimitSvc: rateLimitSvc,
		abuseSvc:     abuseSvc,
		config:       config,
	}
}

func (svc DDoSService) Id() string {
	return DDOS_SVC
}

func (svc *DDoSService) Configure(ctx *appContext.Context) error {
	if svc.rateLimitSvc == nil {
		rateLimitSvc, ok := ctx.Service(RATE_LIMIT_SVC).(*RateLimitService)
		if !ok {
			return fmt.Errorf("ddos service requires %s", RATE_LIMIT_SVC)
		}
		svc.rateLimitSvc = rateLimitSvc
	}
	if svc.abuseSvc == nil {
		abuseSvc, ok := ctx.Service(ABUSE_DETECTOR_SVC).(*AbuseDetectorService)
		if !ok {
			return fmt.Errorf("ddos service requires %s", ABUSE_DETECTOR_SVC)
		}
		svc.abuseSvc = abuseSvc
	}
	if svc.auditSvc == nil {
		svc.auditSvc, _ = ctx.Service(AUDIT_SVC).(*AuditService)
	}
	if svc.metrics == nil {
		svc.metrics, _ = ctx.Service(MONITORING_SVC).(*MonitoringService)
	}

	if svc.config.DenyThreshold == 0 {
		svc.config = DefaultDDoSConfig()
	}
	if raw := os.Getenv("DDOS_WHITELIST"); raw != "" {
		whitelist, err := ParseWhitelist(strings.Split(raw, ","))
		if err != nil {
			return err
		}
		svc.config.Whitelist = whitelist
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *DDoSService) Start() error {
	return nil
}

func (svc *DDoSService) SetAuditService(auditSvc *AuditService) {
	svc.auditSvc = auditSvc
}

// IsWhitelisted reports whether ip is internal or covered by the configured whitelist.
func (svc *DDoSService) IsWhitelisted(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	if isInternalIP(parsed) {
		return true
	}
	for _, block := range svc.config.Whitelist {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

func isInternalIP(ip net.IP) bool {
	for _, block := range internalBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func userAgentScore(userAgent string, cfg DDoSConfig) (int, string) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return cfg.MissingUserAgentScore, "Missing user agent"
	}
	for _, marker := range suspiciousUserAgents {
		if strings.Contains(ua, marker) {
			return cfg.SuspiciousUserAgentScore, "Suspicious user agent: " + marker
		}
	}
	return 0, ""
}

// CheckRequest scores one inbound request from ip. Store failures never deny on their own.
func (svc *DDoSService) CheckRequest(ctx context.Context, ip, userAgent string) dto.DDoSCheckResult {
	if svc.IsWhitelisted(ip) {
		svc.metrics.RecordDDoSDecision(true)
		return dto.DDoSCheckResult{
			Allowed:   true,
			RiskScore: 0,
			Metrics:   dto.DDoSRequestMetrics{Whitelisted: true},
		}
	}

	identifier := shared.IPIdentifierPrefix + ip
	logEntry := log.WithField("ip", ip)

	if status := svc.rateLimitSvc.IsBlocked(ctx, identifier); status.Blocked {
		svc.metrics.RecordDDoSDecision(false)
		return dto.DDoSCheckResult{
			Allowed:   false,
			RiskScore: 100,
			Reasons:   []string{"IP is blocked: " + status.Reason},
			Metrics:   dto.DDoSRequestMetrics{Blocked: true},
		}
	}

	if err := svc.abuseSvc.TrackRequest(ctx, identifier); err != nil {
		logEntry.WithError(err).Warn("Failed to record request sample")
	}

	result := dto.DDoSCheckResult{Reasons: []string{}}

	volume, err := svc.abuseSvc.RecentRequests(ctx, identifier, svc.config.VolumeWindow)
	if err != nil {
		logEntry.WithError(err).Warn("Failed to read request volume")
		volume = 0
	}
	result.Metrics.RequestsLastMinute = volume

	switch {
	case volume > svc.config.ExtremeVolumeThreshold:
		result.Metrics.VolumeScore = svc.config.ExtremeVolumeScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("Extreme request volume: %d per %s", volume, svc.config.VolumeWindow))
	case volume > svc.config.HighVolumeThreshold:
		result.Metrics.VolumeScore = svc.config.HighVolumeScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("High request volume: %d per %s", volume, svc.config.VolumeWindow))
	}

	uaScore, uaReason := userAgentScore(userAgent, svc.config)
	result.Metrics.UserAgentScore = uaScore
	if uaReason != "" {
		result.Reasons = append(result.Reasons, uaReason)
	}

	abuse := svc.abuseSvc.DetectAbuse(ctx, identifier)
	result.Metrics.AbuseScore = abuse.RiskScore
	if abuse.RiskScore > 0 {
		result.Reasons = append(result.Reasons, abuse.Reasons...)
	}

	result.RiskScore = result.Metrics.VolumeScore + result.Metrics.UserAgentScore + result.Metrics.AbuseScore
	if result.RiskScore > 100 {
		result.RiskScore = 100
	}
	result.Allowed = result.RiskScore < svc.config.DenyThreshold
	svc.metrics.RecordDDoSDecision(result.Allowed)

	if !result.Allowed {
		svc.blockAttacker(ctx, ip, userAgent, result)
		result.Metrics.Blocked = true
	}

	return result
}

func (svc *DDoSService) blockAttacker(ctx context.Context, ip, userAgent string, result dto.DDoSCheckResult) {
	identifier := shared.IPIdentifierPrefix + ip
	reason := fmt.Sprintf("DDoS protection: risk score %d", result.RiskScore)

	logEntry := log.WithFields(log.Fields{
		"ip":         ip,
		"risk_score": result.RiskScore,
		"reasons":    result.Reasons,
	})
	if err := svc.rateLimitSvc.BlockIdentifier(ctx, identifier, svc.config.BlockDuration, reason); err != nil {
		logEntry.WithError(err).Error("Failed to block IP")
	} else {
		logEntry.Warn("IP blocked by DDoS protection")
	}

	if svc.auditSvc != nil {
		svc.auditSvc.LogSecurityEvent(ctx, dto.SecurityEvent{
			Type:        "ddos_ip_blocked",
			Severity:    shared.SeverityHigh,
			Description: "DDoS gatekeeper blocked " + ip,
			Metadata: map[string]interface{}{
				"risk_score":     result.RiskScore,
				"reasons":        result.Reasons,
				"block_duration": svc.config.BlockDuration.String(),
			},
			IPAddress: ip,
			UserAgent: userAgent,
		})
	}
}

func isIPIdentifier(identifier string) bool {
	return strings.HasPrefix(identifier, shared.IPIdentifierPrefix)
}

// GetMetrics is the IP-scoped view of the rate limit statistics. Store failures yield zero metrics.
func (svc *DDoSService) GetMetrics(ctx context.Context) dto.DDoSMetrics {
	empty := dto.DDoSMetrics{TopIPs: []dto.IdentifierHits{}, RecentBlocks: []dto.BlockRecord{}}

	stats, err := svc.rateLimitSvc.collectStatistics(ctx, isIPIdentifier)
	if err != nil {
		log.WithError(err).Warn("Failed to collect DDoS metrics")
		return empty
	}

	sampled, err := svc.rateLimitSvc.store.Keys(ctx, shared.RequestsKeyPrefix+shared.IPIdentifierPrefix+"*")
	if err != nil {
		log.WithError(err).Warn("Failed to collect DDoS metrics")
		return empty
	}

	return dto.DDoSMetrics{
		TrackedIPs:               len(sampled),
		BlockedIPs:               stats.TotalBlockedIdentifiers,
		TopIPs:                   stats.TopAbusiveIdentifiers,
		RecentBlocks:             stats.RecentBlocks,
		AverageRequestsPerMinute: stats.AverageRequestsPerMinute,
	}
}

func (svc *DDoSService) UnblockIP(ctx context.Context, ip string) error {
	if net.ParseIP(strings.TrimSpace(ip)) == nil {
		return shared.NewValidationError("ip", "invalid IP address")
	}
	return svc.rateLimitSvc.UnblockIdentifier(ctx, shared.IPIdentifierPrefix+strings.TrimSpace(ip))
}
