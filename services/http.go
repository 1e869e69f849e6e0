package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	docs "github.com/lac-hong-legacy/academy_api/docs"
	"github.com/lac-hong-legacy/academy_api/services/handlers"
	"github.com/lac-hong-legacy/academy_api/shared"
	log "github.com/sirupsen/logrus"
)

// securityGuards and authGuards are satisfied by the middleware package.
type securityGuards interface {
	DDoSGuard() fiber.Handler
	AdminAction(action, resource string) fiber.Handler
}

type authGuards interface {
	RequiredAuth() fiber.Handler
	RequireRole(roles ...string) fiber.Handler
}

type HttpService struct {
	context.DefaultService

	rateLimitSvc *RateLimitService
	abuseSvc     *AbuseDetectorService
	ddosSvc      *DDoSService
	auditSvc     *AuditService
	minioSvc     *MinIOService
	metrics      *MonitoringService

	security securityGuards
	auth     authGuards

	port int
	app  *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	var ok bool
	if svc.rateLimitSvc, ok = ctx.Service(RATE_LIMIT_SVC).(*RateLimitService); !ok {
		return fmt.Errorf("http service requires %s", RATE_LIMIT_SVC)
	}
	if svc.abuseSvc, ok = ctx.Service(ABUSE_DETECTOR_SVC).(*AbuseDetectorService); !ok {
		return fmt.Errorf("http service requires %s", ABUSE_DETECTOR_SVC)
	}
	if svc.ddosSvc, ok = ctx.Service(DDOS_SVC).(*DDoSService); !ok {
		return fmt.Errorf("http service requires %s", DDOS_SVC)
	}
	if svc.auditSvc, ok = ctx.Service(AUDIT_SVC).(*AuditService); !ok {
		return fmt.Errorf("http service requires %s", AUDIT_SVC)
	}
	if svc.security, ok = ctx.Service(shared.SecurityMiddlewareSvc).(securityGuards); !ok {
		return fmt.Errorf("http service requires %s", shared.SecurityMiddlewareSvc)
	}
	if svc.auth, ok = ctx.Service(shared.AuthMiddlewareSvc).(authGuards); !ok {
		return fmt.Errorf("http service requires %s", shared.AuthMiddlewareSvc)
	}
	svc.minioSvc, _ = ctx.Service(MINIO_SVC).(*MinIOService)
	svc.metrics, _ = ctx.Service(MONITORING_SVC).(*MonitoringService)

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.app = svc.newApp()

	log.WithField("port", svc.port).Info("HTTP server listening")
	return svc.app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.Shutdown()
	}
}

func (svc *HttpService) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: svc.HandleError,
		JSONEncoder:  shared.JSON().Marshal,
		JSONDecoder:  shared.JSON().Unmarshal,
	})

	docs.SwaggerInfo.BasePath = ""
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: envOr("CORS_ALLOW_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	if svc.metrics != nil {
		app.Use(MonitoringMiddleware(svc.metrics))
	}
	app.Use(svc.security.DDoSGuard())

	//Validation endpoints
	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", swagger.HandlerDefault)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	admin := v1.Group("/admin", svc.auth.RequiredAuth(), svc.auth.RequireRole(shared.RoleAdmin))
	svc.registerSecurityRoutes(admin.Group("/security"))
	svc.registerAuditRoutes(admin.Group("/audit"))

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseNotFound(c)
	})

	return app
}

func (svc *HttpService) registerSecurityRoutes(r fiber.Router) {
	h := handlers.NewSecurityHandler(svc.rateLimitSvc, svc.abuseSvc, svc.ddosSvc)
	guard := svc.security.AdminAction

	r.Get("/rate-limits/statistics", guard("view_rate_limit_statistics", "rate_limit"), h.GetRateLimitStatistics)
	r.Get("/rate-limits/keys", guard("list_rate_limit_keys", "rate_limit"), h.GetRateLimitKeys)
	r.Get("/rate-limits/configs", guard("view_rate_limit_configs", "rate_limit"), h.GetRateLimitConfigs)
	r.Get("/rate-limits/status", guard("view_rate_limit_status", "rate_limit"), h.GetRateLimitStatus)
	r.Post("/rate-limits/clear", guard("clear_rate_limit", "rate_limit"), h.ClearRateLimit)

	r.Get("/blocks", guard("view_block_status", "blocklist"), h.GetBlockStatus)
	r.Post("/blocks", guard("block_identifier", "blocklist"), h.BlockIdentifier)
	r.Delete("/blocks", guard("unblock_identifier", "blocklist"), h.UnblockIdentifier)

	r.Get("/abuse", guard("detect_abuse", "abuse"), h.DetectAbuse)

	r.Get("/ddos/metrics", guard("view_ddos_metrics", "ddos"), h.GetDDoSMetrics)
	r.Delete("/ddos/blocks/:ip", guard("unblock_ip", "ddos"), h.UnblockIP)
}

func (svc *HttpService) registerAuditRoutes(r fiber.Router) {
	var archives handlers.AuditArchiveInterface
	if svc.minioSvc != nil {
		archives = svc.minioSvc
	}
	h := handlers.NewAuditHandler(svc.auditSvc, archives)
	guard := svc.security.AdminAction

	r.Get("/logs", guard("query_audit_logs", "audit_log"), h.QueryLogs)
	r.Get("/statistics", guard("view_audit_statistics", "audit_log"), h.GetStatistics)
	r.Get("/suspicious", guard("detect_suspicious_activity", "audit_log"), h.DetectSuspiciousActivity)
	r.Post("/cleanup", guard(ActionAuditCleanup, "audit_log"), h.CleanupOldLogs)
	r.Get("/archives", guard("list_audit_archives", "audit_log"), h.ListArchives)
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")

	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

// HandleError renders errors returned by handlers and middleware.
func (svc *HttpService) HandleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.WithError(err).WithField("path", c.Path()).Error("Request failed")
		}
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithError(err).WithField("path", c.Path()).Error("Unhandled request error")
	return shared.ResponseJSON(c, http.StatusInternalServerError, "Internal Server Error", nil)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
