package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/services/repositories"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testStack struct {
	mw      *SecurityMiddleware
	limiter *services.RateLimitService
	audit   *services.AuditService
}

func newTestAuditService(t *testing.T) *services.AuditService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.AuditLog{}, &model.RateLimitConfig{}))
	return services.NewAuditService(repositories.NewAuditRepository(db))
}

func newTestStack(t *testing.T, ddosCfg services.DDoSConfig) *testStack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := services.NewRateLimitService(services.NewWindowStore(services.NewRedisService(client)), nil)
	detector := services.NewAbuseDetectorService(limiter, services.DefaultAbuseThresholds())
	ddos := services.NewDDoSService(limiter, detector, ddosCfg)
	audit := newTestAuditService(t)

	mw := NewSecurityMiddleware(limiter, detector, ddos, audit, services.NewInputValidator())
	mw.TrustProxyHeaders(true)
	return &testStack{mw: mw, limiter: limiter, audit: audit}
}

func okHandler(c *fiber.Ctx) error {
	return shared.ResponseOK(c, nil)
}

func request(method, target, ip, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(fiber.HeaderXForwardedFor, ip)
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0 (X11; Linux x86_64)")
	return req
}

type responseBody struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, responseBody) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body responseBody
	_ = shared.JSON().NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func auditActions(t *testing.T, svc *services.AuditService, filter dto.AuditLogFilter) []string {
	t.Helper()
	logs, _, err := svc.QueryLogs(context.Background(), filter)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestProtect_BlockedIdentifierIsRejected(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Get("/items", stack.mw.PublicAPI(), okHandler)

	require.NoError(t, stack.limiter.BlockIdentifier(context.Background(), "ip:203.0.113.7", time.Hour, "manual review"))

	resp, body := do(t, app, request(fiber.MethodGet, "/items", "203.0.113.7", ""))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Access temporarily blocked", body.Message)
	assert.Equal(t, "manual review", body.Data["reason"])

	resp, _ = do(t, app, request(fiber.MethodGet, "/items", "203.0.113.8", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtect_BlockedIPAppliesToAuthenticatedUser(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		c.Locals(shared.UserID, "user123")
		return c.Next()
	}, stack.mw.PublicAPI(), okHandler)

	require.NoError(t, stack.limiter.BlockIdentifier(context.Background(), "ip:203.0.113.7", time.Hour, "ddos"))

	resp, _ := do(t, app, request(fiber.MethodGet, "/items", "203.0.113.7", ""))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProtect_RateLimitExceeded(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Post("/login", stack.mw.Protect(SecurityConfig{
		RateLimitAction:   "login",
		RateLimitOverride: &dto.RateLimitConfig{WindowMs: time.Minute.Milliseconds(), MaxRequests: 2},
		Purpose:           PurposeAuthentication,
	}), okHandler)

	for i := 0; i < 2; i++ {
		resp, _ := do(t, app, request(fiber.MethodPost, "/login", "203.0.113.9", ""))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, body := do(t, app, request(fiber.MethodPost, "/login", "203.0.113.9", ""))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many login attempts. Please try again later.", body.Message)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(resp.Header.Get(fiber.HeaderRetryAfter))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	assert.Equal(t, []string{"rate_limit_exceeded"}, auditActions(t, stack.audit, dto.AuditLogFilter{Category: shared.CategorySecurity}))
}

func TestProtect_MaliciousInputIsRejected(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.All("/items", stack.mw.PublicAPI(), okHandler)

	resp, body := do(t, app, request(fiber.MethodPost, "/items", "203.0.113.10", `{"bio":"<script>steal()</script>"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Request contains disallowed input", body.Message)

	resp, _ = do(t, app, request(fiber.MethodGet, "/items?$where=sleep", "203.0.113.10", ""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, app, request(fiber.MethodPost, "/items", "203.0.113.10", `{"bio":`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Malformed request body", body.Message)

	actions := auditActions(t, stack.audit, dto.AuditLogFilter{Severity: shared.SeverityHigh})
	assert.Equal(t, []string{"malicious_input_detected", "malicious_input_detected"}, actions)
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=30"`
}

func TestProtect_RequestSchema(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()

	var captured *signupRequest
	app.Post("/register", stack.mw.Registration(func() interface{} { return &signupRequest{} }), func(c *fiber.Ctx) error {
		captured, _ = c.Locals(ValidatedBodyKey).(*signupRequest)
		return shared.ResponseOK(c, nil)
	})

	resp, body := do(t, app, request(fiber.MethodPost, "/register", "203.0.113.11", `{"email":"nope","username":"alice"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body.Message)
	assert.Equal(t, "Email", body.Data["field"])
	assert.Nil(t, captured)

	resp, _ = do(t, app, request(fiber.MethodPost, "/register", "203.0.113.11", `{"email":"alice@example.com","username":"alice"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, captured)
	assert.Equal(t, "alice@example.com", captured.Email)

	actions := auditActions(t, stack.audit, dto.AuditLogFilter{Category: shared.CategoryAuthentication})
	assert.Contains(t, actions, "registration")
}

func TestProtect_SuccessfulRequestsGiveQuotaBack(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Get("/items", stack.mw.PublicAPI(), okHandler)
	app.Get("/broken", stack.mw.PublicAPI(), func(c *fiber.Ctx) error {
		return shared.ResponseJSON(c, http.StatusNotFound, "Not Found", nil)
	})

	resp, _ := do(t, app, request(fiber.MethodGet, "/items", "203.0.113.12", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", resp.Header.Get("X-RateLimit-Remaining"))

	status, err := stack.limiter.GetRateLimitStatus(context.Background(), "ip:203.0.113.12", "api", nil)
	require.NoError(t, err)
	assert.Zero(t, status.TotalHits)

	resp, _ = do(t, app, request(fiber.MethodGet, "/broken", "203.0.113.12", ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, err = stack.limiter.GetRateLimitStatus(context.Background(), "ip:203.0.113.12", "api", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalHits)
}

func TestProtect_AdminActionIsAudited(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Delete("/admin/blocks/:id", func(c *fiber.Ctx) error {
		c.Locals(shared.UserID, "admin-1")
		c.Locals(shared.UserRole, shared.RoleAdmin)
		return c.Next()
	}, stack.mw.AdminAction("unblock_identifier", "blocklist"), okHandler)

	resp, _ := do(t, app, request(fiber.MethodDelete, "/admin/blocks/7f3a", "203.0.113.13", ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	logs, total, err := stack.audit.QueryLogs(context.Background(), dto.AuditLogFilter{Category: shared.CategorySystem})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	entry := logs[0]
	assert.Equal(t, "unblock_identifier", entry.Action)
	assert.Equal(t, "blocklist", entry.Resource)
	assert.Equal(t, "7f3a", entry.ResourceID)
	assert.Equal(t, "admin-1", entry.UserID)
	assert.Equal(t, shared.RoleAdmin, entry.UserRole)
	assert.Equal(t, "203.0.113.13", entry.IPAddress)
	assert.True(t, entry.Success)
}

func TestDDoSGuard_ScriptedFloodIsBlocked(t *testing.T) {
	cfg := services.DefaultDDoSConfig()
	cfg.HighVolumeThreshold = 3
	cfg.ExtremeVolumeThreshold = 5

	stack := newTestStack(t, cfg)
	app := fiber.New()
	app.Use(stack.mw.DDoSGuard())
	app.Get("/", okHandler)

	flood := func() *http.Request {
		req := request(fiber.MethodGet, "/", "203.0.113.50", "")
		req.Header.Set(fiber.HeaderUserAgent, "curl/8.5.0")
		return req
	}

	for i := 0; i < 5; i++ {
		resp, _ := do(t, app, flood())
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, body := do(t, app, flood())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Request blocked by DDoS protection", body.Message)
	assert.EqualValues(t, 80, body.Data["risk_score"])

	assert.True(t, stack.limiter.IsBlocked(context.Background(), "ip:203.0.113.50").Blocked)

	resp, _ = do(t, app, request(fiber.MethodGet, "/", "10.0.0.5", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientIP_IgnoresProxyHeadersUnlessTrusted(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	stack.mw.TrustProxyHeaders(false)

	var seen string
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		seen = stack.mw.ClientIP(c)
		return c.SendStatus(http.StatusNoContent)
	})

	_, err := app.Test(request(fiber.MethodGet, "/", "198.51.100.1", ""), -1)
	require.NoError(t, err)
	assert.NotEqual(t, "198.51.100.1", seen)

	stack.mw.TrustProxyHeaders(true)
	req := request(fiber.MethodGet, "/", "198.51.100.1, 10.0.0.1", "")
	_, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", seen)
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, retryAfterSeconds(now.UnixMilli(), now))
	assert.Equal(t, 1, retryAfterSeconds(now.Add(-time.Minute).UnixMilli(), now))
	assert.Equal(t, 2, retryAfterSeconds(now.Add(1500*time.Millisecond).UnixMilli(), now))
	assert.Equal(t, 900, retryAfterSeconds(now.Add(15*time.Minute).UnixMilli(), now))
}

func TestProtect_OverrideWithoutSkipConsumesQuota(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Get("/exports", stack.mw.Protect(SecurityConfig{
		RateLimitAction:   "api",
		RateLimitOverride: &dto.RateLimitConfig{WindowMs: 60000, MaxRequests: 3},
	}), okHandler)

	for i := 1; i <= 3; i++ {
		resp, _ := do(t, app, request(fiber.MethodGet, "/exports", "198.51.100.20", ""))
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		assert.Equal(t, strconv.Itoa(3-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, _ := do(t, app, request(fiber.MethodGet, "/exports", "198.51.100.20", ""))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestProtect_OverrideWithSkipReturnsQuota(t *testing.T) {
	stack := newTestStack(t, services.DefaultDDoSConfig())
	app := fiber.New()
	app.Post("/sso", stack.mw.Protect(SecurityConfig{
		RateLimitAction:   "login",
		RateLimitOverride: &dto.RateLimitConfig{WindowMs: 900000, MaxRequests: 2, SkipSuccessfulRequests: true},
	}), okHandler)

	for i := 1; i <= 5; i++ {
		resp, _ := do(t, app, request(fiber.MethodPost, "/sso", "198.51.100.21", ""))
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}

	status, err := stack.limiter.GetRateLimitStatus(context.Background(), "ip:198.51.100.21", "login", nil)
	require.NoError(t, err)
	assert.Zero(t, status.TotalHits)
}
