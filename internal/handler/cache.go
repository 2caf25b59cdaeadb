package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/service"
)

// CacheHandler serves the version vector that drives client-side cache
// invalidation polling.
type CacheHandler struct {
	service *service.CacheService
	logger  *slog.Logger
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(svc *service.CacheService, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		service: svc,
		logger:  logger.With("component", "cache_handler"),
	}
}

// State handles GET /proxy/cache-state: four monotonically non-decreasing
// counters, one per cached resource family.
func (h *CacheHandler) State(c echo.Context) error {
	versions, err := h.service.Versions(c.Request().Context(), sessionFrom(c))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, versions)
}
