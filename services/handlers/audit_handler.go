package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
)

type AuditHandler struct {
	auditSvc   AuditServiceInterface
	archiveSvc AuditArchiveInterface
}

func NewAuditHandler(auditSvc AuditServiceInterface, archiveSvc AuditArchiveInterface) *AuditHandler {
	return &AuditHandler{
		auditSvc:   auditSvc,
		archiveSvc: archiveSvc,
	}
}

// @Summary Query audit logs (Admin)
// @Description Filtered audit trail, newest first
// @Tags audit
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param user_id query string false "User ID"
// @Param action query string false "Action"
// @Param resource query string false "Resource"
// @Param severity query string false "Severity"
// @Param category query string false "Category"
// @Param success query bool false "Outcome"
// @Param start_date query string false "RFC3339 lower bound"
// @Param end_date query string false "RFC3339 upper bound"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} shared.Response{data=dto.AuditLogPage}
// @Router /api/v1/admin/audit/logs [get]
func (h *AuditHandler) QueryLogs(c *fiber.Ctx) error {
	var filter dto.AuditLogFilter
	if err := c.QueryParser(&filter); err != nil {
		return shared.NewAppError(http.StatusBadRequest, "Invalid query", err.Error())
	}

	if raw := c.Query("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return shared.ResponseJSON(c, http.StatusBadRequest, "success must be a boolean", nil)
		}
		filter.Success = &success
	}

	var err error
	if filter.StartDate, err = parseDateQuery(c, "start_date"); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "start_date must be RFC3339", nil)
	}
	if filter.EndDate, err = parseDateQuery(c, "end_date"); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "end_date must be RFC3339", nil)
	}

	if err := filter.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	logs, total, err := h.auditSvc.QueryLogs(c.UserContext(), filter)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", dto.AuditLogPage{
		Logs:       logs,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

func parseDateQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// @Summary Audit statistics (Admin)
// @Tags audit
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param timeframe query string false "hour, day, week or month" default(day)
// @Success 200 {object} shared.Response{data=dto.AuditStatistics}
// @Router /api/v1/admin/audit/statistics [get]
func (h *AuditHandler) GetStatistics(c *fiber.Ctx) error {
	stats, err := h.auditSvc.GetStatistics(c.UserContext(), c.Query("timeframe", "day"))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", stats)
}

// @Summary Suspicious activity (Admin)
// @Description Risk signals over the last 24 hours, for one user or globally
// @Tags audit
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param user_id query string false "User ID"
// @Success 200 {object} shared.Response{data=dto.SuspiciousActivityReport}
// @Router /api/v1/admin/audit/suspicious [get]
func (h *AuditHandler) DetectSuspiciousActivity(c *fiber.Ctx) error {
	report, err := h.auditSvc.DetectSuspiciousActivity(c.UserContext(), c.Query("user_id"))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", report)
}

// @Summary Clean up audit logs (Admin)
// @Description Delete entries older than the retention period, archiving them first when storage is configured
// @Tags audit
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param request body dto.CleanupRequest true "Retention"
// @Success 200 {object} shared.Response{data=dto.CleanupResult}
// @Router /api/v1/admin/audit/cleanup [post]
func (h *AuditHandler) CleanupOldLogs(c *fiber.Ctx) error {
	var req dto.CleanupRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewAppError(http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
	}

	result, err := h.auditSvc.CleanupOldLogs(c.UserContext(), req.RetentionDays)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Audit logs cleaned up", result)
}

// @Summary Audit archives (Admin)
// @Tags audit
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=[]string}
// @Router /api/v1/admin/audit/archives [get]
func (h *AuditHandler) ListArchives(c *fiber.Ctx) error {
	if h.archiveSvc == nil {
		return shared.ResponseJSON(c, http.StatusNotFound, "Audit archiving is not configured", nil)
	}

	objects, err := h.archiveSvc.ListAuditArchives(c.UserContext())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(objects))
	for _, object := range objects {
		names = append(names, object.Key)
	}
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", names)
}
