package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/services"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	jwtSvc := services.NewJWTService("test-secret", time.Hour)
	audit := newTestAuditService(t)
	auth := NewAuthMiddleware(jwtSvc, audit)

	app := fiber.New()
	app.Get("/admin/stats", auth.RequiredAuth(), auth.RequireRole(shared.RoleAdmin), func(c *fiber.Ctx) error {
		return shared.ResponseOK(c, fiber.Map{"user": c.Locals(shared.UserID)})
	})

	call := func(token string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/admin/stats", nil)
		if token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("garbage"))

	studentToken, err := jwtSvc.IssueToken("student-1", "student@example.com", "student")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call(studentToken))

	adminToken, err := jwtSvc.IssueToken("admin-1", "admin@example.com", shared.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call(adminToken))

	logs, total, err := audit.QueryLogs(t.Context(), dto.AuditLogFilter{Category: shared.CategoryAuthorization})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "access_denied", logs[0].Action)
	assert.Equal(t, "student-1", logs[0].UserID)
	assert.Equal(t, "/admin/stats", logs[0].Resource)
	assert.False(t, logs[0].Success)
}
