package middleware

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

const SECURITY_MIDDLEWARE_SVC = shared.SecurityMiddlewareSvc

// Purposes select the audit category recorded for a protected route.
const (
	PurposeAPI            = "api"
	PurposeAuthentication = "authentication"
	PurposeRegistration   = "registration"
	PurposeAdmin          = "admin"
	PurposePayment        = "payment"
	PurposeDataAccess     = "data_access"
	PurposeOTP            = "otp"
)

// Locals keys written by the pipeline.
const (
	ValidatedBodyKey = "validated_body"
	ddosCheckedKey   = "ddos_checked"
)

// Denial stages reported to metrics.
const (
	stageBlocked   = "blocked"
	stageRateLimit = "rate_limit"
	stageInput     = "input"
	stageSchema    = "schema"
	stageDDoS      = "ddos"
)

// SecurityConfig describes how one route is protected. Zero values disable a stage.
type SecurityConfig struct {
	RateLimitAction   string
	RateLimitOverride *dto.RateLimitConfig
	ValidateInput     bool
	RequestSchema     func() interface{}
	AuditAction       string
	Purpose           string
	Resource          string
	AssessAbuse       bool
	Identifier        func(c *fiber.Ctx) string
}

type SecurityMiddleware struct {
	context.DefaultService

	rateLimitSvc *services.RateLimitService
	abuseSvc     *services.AbuseDetectorService
	ddosSvc      *services.DDoSService
	auditSvc     *services.AuditService
	validator    *services.InputValidator
	metrics      *services.MonitoringService

	trustProxyHeaders bool
}

func NewSecurityMiddleware(rateLimitSvc *services.RateLimitService, abuseSvc *services.AbuseDetectorService, ddosSvc *services.DDoSService, auditSvc *services.AuditService, validator *services.InputValidator) *SecurityMiddleware {
	return &SecurityMiddleware{
		rateLimitSvc: rateLimitSvc,
		abuseSvc:     abuseSvc,
		ddosSvc:      ddosSvc,
		auditSvc:     auditSvc,
		validator:    validator,
	}
}

func (svc SecurityMiddleware) Id() string {
	return SECURITY_MIDDLEWARE_SVC
}

func (svc *SecurityMiddleware) Configure(ctx *context.Context) error {
	rateLimitSvc, ok := ctx.Service(services.RATE_LIMIT_SVC).(*services.RateLimitService)
	if !ok {
		return fmt.Errorf("security middleware requires %s", services.RATE_LIMIT_SVC)
	}
	svc.rateLimitSvc = rateLimitSvc
	svc.abuseSvc, _ = ctx.Service(services.ABUSE_DETECTOR_SVC).(*services.AbuseDetectorService)
	svc.ddosSvc, _ = ctx.Service(services.DDOS_SVC).(*services.DDoSService)
	svc.auditSvc, _ = ctx.Service(services.AUDIT_SVC).(*services.AuditService)
	svc.metrics, _ = ctx.Service(services.MONITORING_SVC).(*services.MonitoringService)

	svc.validator, ok = ctx.Service(services.INPUT_VALIDATOR_SVC).(*services.InputValidator)
	if !ok {
		svc.validator = services.NewInputValidator()
	}

	svc.trustProxyHeaders = os.Getenv("TRUST_PROXY_HEADERS") == "true"

	return svc.DefaultService.Configure(ctx)
}

func (svc *SecurityMiddleware) Start() error {
	return nil
}

func (svc *SecurityMiddleware) SetMetrics(metrics *services.MonitoringService) {
	svc.metrics = metrics
}

// TrustProxyHeaders makes ClientIP honour X-Forwarded-For style headers.
func (svc *SecurityMiddleware) TrustProxyHeaders(trust bool) {
	svc.trustProxyHeaders = trust
}

// Protect runs the per-request pipeline: blocklist, rate limit, input checks, handler, outcome accounting, audit.
func (svc *SecurityMiddleware) Protect(cfg SecurityConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		ip := svc.ClientIP(c)
		ipIdentifier := shared.IPIdentifierPrefix + ip
		identifier := svc.identifier(c, cfg, ipIdentifier)
		info := svc.requestInfo(c, ip)

		logEntry := log.WithFields(log.Fields{
			"identifier": identifier,
			"path":       c.Path(),
			"method":     c.Method(),
		})

		if status, blocked := svc.blockStatus(c, identifier, ipIdentifier); blocked {
			svc.metrics.RecordMiddlewareDenial(stageBlocked)
			logEntry.WithField("reason", status.Reason).Warn("Request from blocked identifier rejected")
			return shared.ResponseJSON(c, http.StatusForbidden, "Access temporarily blocked", fiber.Map{
				"reason":     status.Reason,
				"expires_at": status.ExpiresAt,
			})
		}

		if svc.abuseSvc != nil && (identifier != ipIdentifier || c.Locals(ddosCheckedKey) == nil) {
			if err := svc.abuseSvc.TrackRequest(ctx, identifier); err != nil {
				logEntry.WithError(err).Debug("Failed to record request sample")
			}
		}

		if cfg.RateLimitAction != "" {
			result, err := svc.rateLimitSvc.CheckRateLimit(ctx, identifier, cfg.RateLimitAction, cfg.RateLimitOverride)
			if err != nil {
				return err
			}

			setRateLimitHeaders(c, result, svc.limitFor(cfg))

			if !result.Allowed {
				svc.metrics.RecordMiddlewareDenial(stageRateLimit)
				return svc.rateLimitExceeded(c, cfg, identifier, result, info)
			}
		}

		if cfg.ValidateInput {
			if rejected, err := svc.inspectInput(c, cfg, identifier, info); rejected {
				return err
			}
		}

		handlerErr := c.Next()
		status := responseStatus(c, handlerErr)
		success := handlerErr == nil && status < http.StatusBadRequest

		if cfg.RateLimitAction != "" {
			svc.rateLimitSvc.RecordOutcome(ctx, identifier, cfg.RateLimitAction, cfg.RateLimitOverride, success)
		}

		if cfg.AuditAction != "" && svc.auditSvc != nil {
			svc.audit(c, cfg, success, status, handlerErr, info)
		}

		return handlerErr
	}
}

// DDoSGuard scores the caller IP before anything else runs.
func (svc *SecurityMiddleware) DDoSGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if svc.ddosSvc == nil {
			return c.Next()
		}

		ip := svc.ClientIP(c)
		result := svc.ddosSvc.CheckRequest(c.UserContext(), ip, c.Get(fiber.HeaderUserAgent))
		c.Locals(ddosCheckedKey, true)

		if !result.Allowed {
			svc.metrics.RecordMiddlewareDenial(stageDDoS)
			log.WithFields(log.Fields{
				"ip":         ip,
				"risk_score": result.RiskScore,
				"reasons":    result.Reasons,
			}).Warn("Request rejected by DDoS protection")
			return shared.ResponseJSON(c, http.StatusForbidden, "Request blocked by DDoS protection", fiber.Map{
				"risk_score": result.RiskScore,
				"reasons":    result.Reasons,
			})
		}

		return c.Next()
	}
}

// Presets

func (svc *SecurityMiddleware) PublicAPI() fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "api",
		ValidateInput:   true,
		Purpose:         PurposeAPI,
	})
}

func (svc *SecurityMiddleware) Authentication(action string) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "login",
		ValidateInput:   true,
		AuditAction:     action,
		Purpose:         PurposeAuthentication,
		AssessAbuse:     true,
		Identifier:      svc.ipIdentifier,
	})
}

func (svc *SecurityMiddleware) Registration(schema func() interface{}) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "registration",
		ValidateInput:   true,
		RequestSchema:   schema,
		AuditAction:     "registration",
		Purpose:         PurposeRegistration,
		AssessAbuse:     true,
		Identifier:      svc.ipIdentifier,
	})
}

func (svc *SecurityMiddleware) AdminAction(action, resource string) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "admin",
		ValidateInput:   true,
		AuditAction:     action,
		Purpose:         PurposeAdmin,
		Resource:        resource,
	})
}

func (svc *SecurityMiddleware) Payment(action string, schema func() interface{}) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "payment",
		ValidateInput:   true,
		RequestSchema:   schema,
		AuditAction:     action,
		Purpose:         PurposePayment,
		Resource:        "payment",
		AssessAbuse:     true,
	})
}

func (svc *SecurityMiddleware) DataAccess(resource string) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "data_export",
		AuditAction:     "data_access",
		Purpose:         PurposeDataAccess,
		Resource:        resource,
	})
}

func (svc *SecurityMiddleware) OTP(action string) fiber.Handler {
	return svc.Protect(SecurityConfig{
		RateLimitAction: "otp",
		ValidateInput:   true,
		AuditAction:     action,
		Purpose:         PurposeOTP,
		AssessAbuse:     true,
	})
}

// ==================== HELPER FUNCTIONS ====================

func (svc *SecurityMiddleware) identifier(c *fiber.Ctx, cfg SecurityConfig, ipIdentifier string) string {
	if cfg.Identifier != nil {
		if id := cfg.Identifier(c); id != "" {
			return id
		}
	}
	if userID := localString(c, shared.UserID); userID != "" {
		return userID
	}
	return ipIdentifier
}

func (svc *SecurityMiddleware) ipIdentifier(c *fiber.Ctx) string {
	return shared.IPIdentifierPrefix + svc.ClientIP(c)
}

func (svc *SecurityMiddleware) blockStatus(c *fiber.Ctx, identifier, ipIdentifier string) (dto.BlockStatus, bool) {
	ctx := c.UserContext()
	if status := svc.rateLimitSvc.IsBlocked(ctx, identifier); status.Blocked {
		return status, true
	}
	if identifier != ipIdentifier {
		if status := svc.rateLimitSvc.IsBlocked(ctx, ipIdentifier); status.Blocked {
			return status, true
		}
	}
	return dto.BlockStatus{}, false
}

func (svc *SecurityMiddleware) limitFor(cfg SecurityConfig) int {
	if cfg.RateLimitOverride != nil {
		return cfg.RateLimitOverride.MaxRequests
	}
	limit, _ := svc.rateLimitSvc.Config(cfg.RateLimitAction)
	return limit.MaxRequests
}

func setRateLimitHeaders(c *fiber.Ctx, result dto.RateLimitResult, limit int) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime/1000, 10))
}

func retryAfterSeconds(resetTime int64, now time.Time) int {
	wait := time.UnixMilli(resetTime).Sub(now)
	if wait <= 0 {
		return 1
	}
	return int(math.Ceil(wait.Seconds()))
}

func (svc *SecurityMiddleware) rateLimitExceeded(c *fiber.Ctx, cfg SecurityConfig, identifier string, result dto.RateLimitResult, info dto.RequestInfo) error {
	ctx := c.UserContext()
	retryAfter := retryAfterSeconds(result.ResetTime, time.Now())
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))

	log.WithFields(log.Fields{
		"identifier": identifier,
		"action":     cfg.RateLimitAction,
		"total_hits": result.TotalHits,
	}).Warn("Rate limit exceeded")

	if cfg.AssessAbuse && svc.abuseSvc != nil {
		svc.abuseSvc.AssessAndRespond(ctx, identifier, info)
	}

	if svc.auditSvc != nil {
		svc.auditSvc.LogSecurityEvent(ctx, dto.SecurityEvent{
			Type:        "rate_limit_exceeded",
			Severity:    shared.SeverityMedium,
			Description: fmt.Sprintf("Rate limit exceeded for action %s", cfg.RateLimitAction),
			Metadata: map[string]interface{}{
				"identifier": identifier,
				"action":     cfg.RateLimitAction,
				"total_hits": result.TotalHits,
				"path":       c.Path(),
			},
			UserID:    localString(c, shared.UserID),
			IPAddress: info.IPAddress,
			UserAgent: info.UserAgent,
		})
	}

	message := rateLimitMessage(cfg.RateLimitAction)
	return shared.ResponseJSON(c, http.StatusTooManyRequests, message, fiber.Map{
		"error":       "Rate limit exceeded",
		"retry_after": retryAfter,
		"reset_time":  result.ResetTime,
	})
}

func rateLimitMessage(action string) string {
	messages := map[string]string{
		"login":          "Too many login attempts. Please try again later.",
		"registration":   "Too many registration attempts. Please try again later.",
		"password_reset": "Too many password reset requests. Please try again later.",
		"otp":            "Too many verification attempts. Please try again later.",
		"payment":        "Too many payment attempts. Please try again later.",
		"data_export":    "Too many export requests. Please try again later.",
		"api":            "Too many requests. Please slow down.",
	}

	if message, exists := messages[action]; exists {
		return message
	}

	return "Too many requests. Please try again later."
}

// inspectInput writes the 400 response itself and reports whether the request was rejected.
func (svc *SecurityMiddleware) inspectInput(c *fiber.Ctx, cfg SecurityConfig, identifier string, info dto.RequestInfo) (bool, error) {
	var findings []string

	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		if strings.HasPrefix(k, "$") {
			findings = append(findings, "operator key "+k)
		}
		if svc.validator.ContainsInjection(string(value)) {
			findings = append(findings, "injection marker in "+k)
		}
	})

	body := c.Body()
	if len(body) > 0 && isJSON(c) {
		var payload interface{}
		if err := shared.JSON().Unmarshal(body, &payload); err != nil {
			svc.metrics.RecordMiddlewareDenial(stageInput)
			return true, shared.ResponseJSON(c, http.StatusBadRequest, "Malformed request body", nil)
		}
		findings = append(findings, svc.validator.InspectPayload(payload)...)
	} else if len(body) > 0 && svc.validator.ContainsInjection(string(body)) {
		findings = append(findings, "injection marker in body")
	}

	if len(findings) > 0 {
		svc.metrics.RecordMiddlewareDenial(stageInput)
		log.WithFields(log.Fields{
			"identifier": identifier,
			"path":       c.Path(),
			"findings":   findings,
		}).Warn("Malicious input rejected")

		if svc.auditSvc != nil {
			svc.auditSvc.LogSecurityEvent(c.UserContext(), dto.SecurityEvent{
				Type:        "malicious_input_detected",
				Severity:    shared.SeverityHigh,
				Description: "Request rejected by input inspection",
				Metadata: map[string]interface{}{
					"identifier": identifier,
					"path":       c.Path(),
					"findings":   findings,
				},
				UserID:    localString(c, shared.UserID),
				IPAddress: info.IPAddress,
				UserAgent: info.UserAgent,
			})
		}
		return true, shared.ResponseJSON(c, http.StatusBadRequest, "Request contains disallowed input", fiber.Map{
			"findings": findings,
		})
	}

	if cfg.RequestSchema != nil {
		schema := cfg.RequestSchema()
		if err := svc.validator.ValidateAPIRequest(schema, body); err != nil {
			svc.metrics.RecordMiddlewareDenial(stageSchema)
			var data interface{}
			var valErr *shared.ValidationError
			if errors.As(err, &valErr) {
				data = fiber.Map{"field": valErr.Field, "message": valErr.Message}
			}
			return true, shared.ResponseJSON(c, http.StatusBadRequest, "Validation failed", data)
		}
		c.Locals(ValidatedBodyKey, schema)
	}

	return false, nil
}

func isJSON(c *fiber.Ctx) bool {
	return strings.Contains(strings.ToLower(string(c.Request().Header.ContentType())), "json")
}

func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	if appErr, ok := shared.GetAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func (svc *SecurityMiddleware) audit(c *fiber.Ctx, cfg SecurityConfig, success bool, status int, handlerErr error, info dto.RequestInfo) {
	ctx := c.UserContext()
	userID := localString(c, shared.UserID)
	resourceID := c.Params("id")
	details := map[string]interface{}{
		"method": c.Method(),
		"path":   c.Path(),
		"status": status,
	}
	errorMessage := ""
	if handlerErr != nil {
		errorMessage = handlerErr.Error()
	} else if !success {
		errorMessage = http.StatusText(status)
	}

	switch cfg.Purpose {
	case PurposeAuthentication, PurposeOTP:
		svc.auditSvc.LogAuthentication(ctx, userID, cfg.AuditAction, success, errorMessage, info)
	case PurposeAdmin:
		svc.auditSvc.LogAdminAction(ctx, userID, cfg.AuditAction, resourceOr(cfg.Resource, "admin"), resourceID, success, details, info)
	case PurposePayment:
		svc.auditSvc.LogPaymentEvent(ctx, userID, cfg.AuditAction, resourceID, success, details, info)
	case PurposeDataAccess:
		svc.auditSvc.LogDataAccess(ctx, userID, resourceOr(cfg.Resource, c.Path()), resourceID, details, info)
	default:
		category := shared.CategoryDataAccess
		if cfg.Purpose == PurposeRegistration {
			category = shared.CategoryAuthentication
		} else if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			category = shared.CategoryDataModification
		}
		severity := shared.SeverityLow
		if !success {
			severity = shared.SeverityMedium
		}
		svc.auditSvc.Record(ctx, dto.AuditEntry{
			UserID:       userID,
			UserEmail:    info.UserEmail,
			UserRole:     info.UserRole,
			Action:       cfg.AuditAction,
			Resource:     resourceOr(cfg.Resource, c.Path()),
			ResourceID:   resourceID,
			Details:      details,
			IPAddress:    info.IPAddress,
			UserAgent:    info.UserAgent,
			SessionID:    info.SessionID,
			Success:      &success,
			ErrorMessage: errorMessage,
			Severity:     severity,
			Category:     category,
		})
	}
}

func resourceOr(resource, fallback string) string {
	if resource != "" {
		return resource
	}
	return fallback
}

func (svc *SecurityMiddleware) requestInfo(c *fiber.Ctx, ip string) dto.RequestInfo {
	return dto.RequestInfo{
		IPAddress: ip,
		UserAgent: c.Get(fiber.HeaderUserAgent),
		SessionID: localString(c, shared.SessionID),
		UserEmail: localString(c, shared.UserEmail),
		UserRole:  localString(c, shared.UserRole),
	}
}

func localString(c *fiber.Ctx, key string) string {
	if value, ok := c.Locals(key).(string); ok {
		return value
	}
	return ""
}

// ==================== UTILITY FUNCTIONS ====================

// ClientIP resolves the caller address. Proxy headers are only read when trusted.
func (svc *SecurityMiddleware) ClientIP(c *fiber.Ctx) string {
	if svc.trustProxyHeaders {
		if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
			ips := strings.Split(forwarded, ",")
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}

		if realIP := c.Get("X-Real-IP"); realIP != "" {
			return realIP
		}

		if cfIP := c.Get("CF-Connecting-IP"); cfIP != "" {
			return cfIP
		}
	}

	remote := c.Context().RemoteAddr().String()
	ip, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}

	return ip
}
