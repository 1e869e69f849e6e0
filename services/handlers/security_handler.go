package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
)

type SecurityHandler struct {
	rateLimitSvc RateLimitServiceInterface
	abuseSvc     AbuseDetectorInterface
	ddosSvc      DDoSServiceInterface
}

func NewSecurityHandler(rateLimitSvc RateLimitServiceInterface, abuseSvc AbuseDetectorInterface, ddosSvc DDoSServiceInterface) *SecurityHandler {
	return &SecurityHandler{
		rateLimitSvc: rateLimitSvc,
		abuseSvc:     abuseSvc,
		ddosSvc:      ddosSvc,
	}
}

// @Summary Rate limit statistics (Admin)
// @Description Active windows, blocked identifiers and top offenders
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.RateLimitStatistics}
// @Router /api/v1/admin/security/rate-limits/statistics [get]
func (h *SecurityHandler) GetRateLimitStatistics(c *fiber.Ctx) error {
	stats := h.rateLimitSvc.GetStatistics(c.UserContext())
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stats)
}

// @Summary Rate limit keys (Admin)
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=[]string}
// @Router /api/v1/admin/security/rate-limits/keys [get]
func (h *SecurityHandler) GetRateLimitKeys(c *fiber.Ctx) error {
	keys := h.rateLimitSvc.GetAllRateLimitKeys(c.UserContext())
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", keys)
}

// @Summary Rate limit configuration (Admin)
// @Description Effective per-action windows
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=map[string]dto.RateLimitConfig}
// @Router /api/v1/admin/security/rate-limits/configs [get]
func (h *SecurityHandler) GetRateLimitConfigs(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.rateLimitSvc.Configs())
}

// @Summary Rate limit status (Admin)
// @Description Current window for one identifier and action without consuming quota
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param identifier query string true "Identifier"
// @Param action query string true "Action"
// @Success 200 {object} shared.Response{data=dto.RateLimitResult}
// @Router /api/v1/admin/security/rate-limits/status [get]
func (h *SecurityHandler) GetRateLimitStatus(c *fiber.Ctx) error {
	identifier := c.Query("identifier")
	action := c.Query("action")
	if identifier == "" || action == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "identifier and action are required", nil)
	}

	result, err := h.rateLimitSvc.GetRateLimitStatus(c.UserContext(), identifier, action, nil)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", result)
}

// @Summary Clear rate limit (Admin)
// @Description Drop the window of one identifier for one action
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param request body dto.ClearRateLimitRequest true "Window to clear"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/security/rate-limits/clear [post]
func (h *SecurityHandler) ClearRateLimit(c *fiber.Ctx) error {
	var req dto.ClearRateLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewAppError(http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	if err := h.rateLimitSvc.ClearRateLimit(c.UserContext(), req.Identifier, req.Action); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Rate limit cleared", nil)
}

// @Summary Block identifier (Admin)
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param request body dto.BlockIdentifierRequest true "Block request"
// @Success 201 {object} shared.Response{data=dto.BlockStatus}
// @Router /api/v1/admin/security/blocks [post]
func (h *SecurityHandler) BlockIdentifier(c *fiber.Ctx) error {
	var req dto.BlockIdentifierRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewAppError(http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	ctx := c.UserContext()
	duration := time.Duration(req.DurationMs) * time.Millisecond
	if err := h.rateLimitSvc.BlockIdentifier(ctx, req.Identifier, duration, req.Reason); err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusCreated, "Identifier blocked", h.rateLimitSvc.IsBlocked(ctx, req.Identifier))
}

// @Summary Block status (Admin)
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param identifier query string true "Identifier"
// @Success 200 {object} shared.Response{data=dto.BlockStatus}
// @Router /api/v1/admin/security/blocks [get]
func (h *SecurityHandler) GetBlockStatus(c *fiber.Ctx) error {
	identifier := c.Query("identifier")
	if identifier == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "identifier is required", nil)
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.rateLimitSvc.IsBlocked(c.UserContext(), identifier))
}

// @Summary Unblock identifier (Admin)
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param identifier query string true "Identifier"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/security/blocks [delete]
func (h *SecurityHandler) UnblockIdentifier(c *fiber.Ctx) error {
	identifier := c.Query("identifier")
	if identifier == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "identifier is required", nil)
	}

	if err := h.rateLimitSvc.UnblockIdentifier(c.UserContext(), identifier); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Identifier unblocked", nil)
}

// @Summary Abuse assessment (Admin)
// @Description Score an identifier against the abuse signals
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param identifier query string true "Identifier"
// @Success 200 {object} shared.Response{data=dto.AbuseAssessment}
// @Router /api/v1/admin/security/abuse [get]
func (h *SecurityHandler) DetectAbuse(c *fiber.Ctx) error {
	identifier := c.Query("identifier")
	if identifier == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "identifier is required", nil)
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.abuseSvc.DetectAbuse(c.UserContext(), identifier))
}

// @Summary DDoS metrics (Admin)
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.DDoSMetrics}
// @Router /api/v1/admin/security/ddos/metrics [get]
func (h *SecurityHandler) GetDDoSMetrics(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", h.ddosSvc.GetMetrics(c.UserContext()))
}

// @Summary Unblock IP (Admin)
// @Tags security
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip path string true "IP address"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/security/ddos/blocks/{ip} [delete]
func (h *SecurityHandler) UnblockIP(c *fiber.Ctx) error {
	if err := h.ddosSvc.UnblockIP(c.UserContext(), c.Params("ip")); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "IP unblocked", nil)
}
