package middleware

import (
	"fmt"
	"net/http"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/shared"
)

type AuthMiddleware struct {
	context.DefaultService

	jwtSvc   *services.JWTService
	auditSvc *services.AuditService
}

const AUTH_MIDDLEWARE_SVC = shared.AuthMiddlewareSvc

func NewAuthMiddleware(jwtSvc *services.JWTService, auditSvc *services.AuditService) *AuthMiddleware {
	return &AuthMiddleware{jwtSvc: jwtSvc, auditSvc: auditSvc}
}

func (svc AuthMiddleware) Id() string {
	return AUTH_MIDDLEWARE_SVC
}

func (svc *AuthMiddleware) Configure(ctx *context.Context) error {
	jwtSvc, ok := ctx.Service(services.JWT_SVC).(*services.JWTService)
	if !ok {
		return fmt.Errorf("auth middleware requires %s", services.JWT_SVC)
	}
	svc.jwtSvc = jwtSvc
	svc.auditSvc, _ = ctx.Service(services.AUDIT_SVC).(*services.AuditService)
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthMiddleware) Start() error {
	return nil
}

func (svc *AuthMiddleware) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := svc.jwtSvc.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", err.Error())
		}

		claims, err := svc.jwtSvc.VerifyToken(token)
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", "Invalid JWT token")
		}

		if claims.UserID == "" {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", "Invalid user ID in token")
		}

		c.Locals(shared.UserID, claims.UserID)
		c.Locals(shared.UserRole, claims.Role)
		c.Locals(shared.UserEmail, claims.Email)
		if claims.ID != "" {
			c.Locals(shared.SessionID, claims.ID)
		}
		return c.Next()
	}
}

// RequireRole must run after RequiredAuth. Denials are audited as authorization failures.
func (svc *AuthMiddleware) RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := localString(c, shared.UserRole)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}

		if svc.auditSvc != nil {
			svc.auditSvc.LogAuthorization(c.UserContext(), localString(c, shared.UserID), c.Path(), false, roles, dto.RequestInfo{
				IPAddress: c.IP(),
				UserAgent: c.Get(fiber.HeaderUserAgent),
				SessionID: localString(c, shared.SessionID),
				UserEmail: localString(c, shared.UserEmail),
				UserRole:  role,
			})
		}

		return shared.ResponseForbidden(c)
	}
}
