package services

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const ABUSE_DETECTOR_SVC = "abuse_detector_svc"

const abuseDetectionErrorReason = "Error during abuse detection"

// AbuseThresholds tunes the detector. Weights are added once per tripped signal.
type AbuseThresholds struct {
	// An action counter at or above NearLimitRatio*max trips that action's weight.
	NearLimitRatio float64
	ActionWeights  map[string]int

	RapidWindow           time.Duration
	RapidRequestThreshold int
	RapidRequestWeight    int

	SimilarPatternThreshold int
	SimilarPatternWeight    int

	// Raw request samples are kept this long; it must cover RapidWindow and the DDoS volume window.
	SampleRetention time.Duration

	AbusiveScore int
}

func DefaultAbuseThresholds() AbuseThresholds {
	return AbuseThresholds{
		NearLimitRatio: 0.8,
		ActionWeights: map[string]int{
			"login":        20,
			"registration": 15,
			"api":          10,
			"payment":      20,
			"otp":          15,
		},
		RapidWindow:             10 * time.Second,
		RapidRequestThreshold:   20,
		RapidRequestWeight:      30,
		SimilarPatternThreshold: 15,
		SimilarPatternWeight:    25,
		SampleRetention:         time.Minute,
		AbusiveScore:            50,
	}
}

// monitoredActions is iterated in a fixed order so reasons are stable.
var monitoredActions = []string{"login", "registration", "api", "payment", "otp"}

type AbuseDetectorService struct {
	appContext.DefaultService

	rateLimitSvc *RateLimitService
	auditSvc     *AuditService
	metrics      *MonitoringService

	thresholds        AbuseThresholds
	autoBlock         bool
	autoBlockDuration time.Duration
}

func NewAbuseDetectorService(rateLimitSvc *RateLimitService, thresholds AbuseThresholds) *AbuseDetectorService {
	return &AbuseDetectorService{
		rateLimitSvc:      rateLimitSvc,
		thresholds:        thresholds,
		autoBlockDuration: time.Hour,
	}
}

func (svc AbuseDetectorService) Id() string {
	return ABUSE_DETECTOR_SVC
}

func (svc *AbuseDetectorService) Configure(ctx *appContext.Context) error {
	if svc.rateLimitSvc == nil {
		rateLimitSvc, ok := ctx.Service(RATE_LIMIT_SVC).(*RateLimitService)
		if !ok {
			return fmt.Errorf("abuse detector requires %s", RATE_LIMIT_SVC)
		}
		svc.rateLimitSvc = rateLimitSvc
	}
	if svc.thresholds.ActionWeights == nil {
		svc.thresholds = DefaultAbuseThresholds()
	}
	if svc.auditSvc == nil {
		svc.auditSvc, _ = ctx.Service(AUDIT_SVC).(*AuditService)
	}
	if svc.metrics == nil {
		svc.metrics, _ = ctx.Service(MONITORING_SVC).(*MonitoringService)
	}

	svc.autoBlock = os.Getenv("ABUSE_AUTO_BLOCK") == "true"
	svc.autoBlockDuration = time.Hour
	if minutes, err := strconv.Atoi(os.Getenv("ABUSE_AUTO_BLOCK_MINUTES")); err == nil && minutes > 0 {
		svc.autoBlockDuration = time.Duration(minutes) * time.Minute
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *AbuseDetectorService) Start() error {
	return nil
}

// EnableAutoBlock turns on automated blocking in AssessAndRespond.
func (svc *AbuseDetectorService) EnableAutoBlock(duration time.Duration) {
	svc.autoBlock = true
	svc.autoBlockDuration = duration
}

func (svc *AbuseDetectorService) SetAuditService(auditSvc *AuditService) {
	svc.auditSvc = auditSvc
}

func (svc *AbuseDetectorService) Thresholds() AbuseThresholds {
	return svc.thresholds
}

func requestsKey(identifier string) string {
	return shared.RequestsKeyPrefix + identifier
}

// TrackRequest appends one entry to the raw request sample of identifier.
func (svc *AbuseDetectorService) TrackRequest(ctx context.Context, identifier string) error {
	if identifier == "" {
		return shared.NewValidationError("identifier", "identifier is required")
	}
	now := svc.rateLimitSvc.now()
	_, err := svc.rateLimitSvc.store.RecordAndCount(ctx, requestsKey(identifier), now, svc.thresholds.SampleRetention, windowMember(now))
	return err
}

// RecentRequests counts sampled requests of identifier inside window.
func (svc *AbuseDetectorService) RecentRequests(ctx context.Context, identifier string, window time.Duration) (int, error) {
	return svc.rateLimitSvc.store.CountSince(ctx, requestsKey(identifier), svc.rateLimitSvc.now().Add(-window))
}

// DetectAbuse scores identifier from its action counters, its request rate and its neighbours.
// It never reports abuse because of its own failure.
func (svc *AbuseDetectorService) DetectAbuse(ctx context.Context, identifier string) dto.AbuseAssessment {
	assessment, err := svc.detect(ctx, identifier)
	if err != nil {
		log.WithField("identifier", identifier).WithError(err).Warn("Abuse detection failed")
		svc.metrics.RecordStoreFailure("detect_abuse")
		return dto.AbuseAssessment{
			IsAbusive: false,
			Reasons:   []string{abuseDetectionErrorReason},
			RiskScore: 0,
		}
	}

	svc.metrics.RecordAbuseScore(assessment.RiskScore)
	return assessment
}

func (svc *AbuseDetectorService) detect(ctx context.Context, identifier string) (dto.AbuseAssessment, error) {
	if identifier == "" {
		return dto.AbuseAssessment{}, shared.NewValidationError("identifier", "identifier is required")
	}

	t := svc.thresholds
	now := svc.rateLimitSvc.now()
	store := svc.rateLimitSvc.store

	hits := make([]int, len(monitoredActions))
	g, gctx := errgroup.WithContext(ctx)
	for i, action := range monitoredActions {
		cfg, ok := svc.rateLimitSvc.Config(action)
		if !ok {
			hits[i] = -1
			continue
		}
		i, action := i, action
		g.Go(func() error {
			count, err := store.PeekCount(gctx, rateLimitKey(action, identifier), now, cfg.Window())
			if err != nil {
				return err
			}
			hits[i] = count
			return nil
		})
	}

	var rapid, similar int
	g.Go(func() error {
		count, err := store.CountSince(gctx, requestsKey(identifier), now.Add(-t.RapidWindow))
		rapid = count
		return err
	})
	g.Go(func() error {
		count, err := svc.countSimilarIdentifiers(gctx, identifier)
		similar = count
		return err
	})

	if err := g.Wait(); err != nil {
		return dto.AbuseAssessment{}, err
	}

	assessment := dto.AbuseAssessment{Reasons: []string{}}
	for i, action := range monitoredActions {
		if hits[i] < 0 {
			continue
		}
		cfg, _ := svc.rateLimitSvc.Config(action)
		if float64(hits[i]) >= t.NearLimitRatio*float64(cfg.MaxRequests) {
			assessment.RiskScore += t.ActionWeights[action]
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("High %s activity: %d of %d requests in window", action, hits[i], cfg.MaxRequests))
		}
	}

	if rapid > t.RapidRequestThreshold {
		assessment.RiskScore += t.RapidRequestWeight
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("Rapid requests: %d in the last %s", rapid, t.RapidWindow))
	}

	if similar >= t.SimilarPatternThreshold {
		assessment.RiskScore += t.SimilarPatternWeight
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("Similar identifier pattern: %d related identifiers active", similar))
	}

	if assessment.RiskScore > 100 {
		assessment.RiskScore = 100
	}
	assessment.IsAbusive = assessment.RiskScore > t.AbusiveScore
	return assessment, nil
}

// countSimilarIdentifiers counts distinct sampled identifiers sharing identifier's prefix.
func (svc *AbuseDetectorService) countSimilarIdentifiers(ctx context.Context, identifier string) (int, error) {
	prefix := identifierPrefix(identifier)
	if prefix == "" {
		return 0, nil
	}

	keys, err := svc.rateLimitSvc.store.Keys(ctx, shared.RequestsKeyPrefix+escapeGlob(prefix)+"*")
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[strings.TrimPrefix(key, shared.RequestsKeyPrefix)] = struct{}{}
	}
	return len(seen), nil
}

// identifierPrefix is the /24 network for IPv4 identifiers, otherwise the text up to the last separator.
func identifierPrefix(identifier string) string {
	if strings.HasPrefix(identifier, shared.IPIdentifierPrefix) {
		addr := strings.TrimPrefix(identifier, shared.IPIdentifierPrefix)
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			octets := strings.Split(ip.To4().String(), ".")
			return shared.IPIdentifierPrefix + strings.Join(octets[:3], ".") + "."
		}
	}

	idx := strings.LastIndexAny(identifier, ":-_")
	if idx <= 0 {
		return ""
	}
	return identifier[:idx+1]
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AssessAndRespond runs DetectAbuse and, when auto-block is on, blocks abusive identifiers.
func (svc *AbuseDetectorService) AssessAndRespond(ctx context.Context, identifier string, info dto.RequestInfo) dto.AbuseAssessment {
	assessment := svc.DetectAbuse(ctx, identifier)
	if !assessment.IsAbusive {
		return assessment
	}

	logEntry := log.WithFields(log.Fields{
		"identifier": identifier,
		"risk_score": assessment.RiskScore,
		"reasons":    assessment.Reasons,
	})

	if svc.autoBlock {
		reason := "Automated abuse detection: " + strings.Join(assessment.Reasons, "; ")
		if err := svc.rateLimitSvc.BlockIdentifier(ctx, identifier, svc.autoBlockDuration, reason); err != nil {
			logEntry.WithError(err).Error("Failed to auto-block abusive identifier")
		} else {
			logEntry.Warn("Abusive identifier auto-blocked")
		}
	} else {
		logEntry.Warn("Abusive identifier detected")
	}

	if svc.auditSvc != nil {
		svc.auditSvc.LogSecurityEvent(ctx, dto.SecurityEvent{
			Type:        "abuse_detected",
			Severity:    shared.SeverityHigh,
			Description: "Abuse detector flagged " + identifier,
			Metadata: map[string]interface{}{
				"identifier":   identifier,
				"risk_score":   assessment.RiskScore,
				"reasons":      assessment.Reasons,
				"auto_blocked": svc.autoBlock,
			},
			IPAddress: info.IPAddress,
			UserAgent: info.UserAgent,
		})
	}

	return assessment
}
