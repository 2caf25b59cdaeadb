package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/service"
)

// CronHandler serves scheduled-job create and list endpoints.
type CronHandler struct {
	service *service.CronService
	logger  *slog.Logger
}

// NewCronHandler creates a CronHandler.
func NewCronHandler(svc *service.CronService, logger *slog.Logger) *CronHandler {
	return &CronHandler{
		service: svc,
		logger:  logger.With("component", "cron_handler"),
	}
}

// Create handles POST /proxy/crons.
func (h *CronHandler) Create(c echo.Context) error {
	var req service.CronCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "malformed_request",
			"text":  "request body must be JSON",
		})
	}

	job, status, err := h.service.Create(c.Request().Context(), sessionFrom(c), &req)
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	return c.JSONBlob(status, job)
}

// List handles GET /proxy/crons?deploymentId=.
func (h *CronHandler) List(c echo.Context) error {
	list, err := h.service.List(c.Request().Context(), sessionFrom(c), c.QueryParam("deploymentId"))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, list)
}
