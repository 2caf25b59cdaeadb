package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/middleware"
	"agent-proxy-go/internal/model"
	"agent-proxy-go/internal/service"
)

// sessionFrom returns the session stored by the RequireSession middleware.
// Handlers behind the gate can rely on it being present; a nil return means
// a routing mistake, reported as 401 rather than a panic.
func sessionFrom(c echo.Context) *model.Session {
	session, _ := c.Get(middleware.SessionKey).(*model.Session)
	return session
}

// writeServiceError maps the shared error taxonomy to HTTP. Order matters:
// specific error shapes first, contained network translations last.
func writeServiceError(c echo.Context, logger *slog.Logger, err error) error {
	var malformed *service.MalformedRequestError
	if errors.As(err, &malformed) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "malformed_request",
			"field": malformed.Field,
			"text":  malformed.Message,
		})
	}

	var upstream *service.UpstreamError
	if errors.As(err, &upstream) {
		// Pass the upstream body through verbatim when it is JSON;
		// synthesize a generic payload otherwise.
		var detail map[string]any
		if json.Unmarshal(upstream.Body, &detail) == nil && len(detail) > 0 {
			return c.JSON(upstream.StatusCode, detail)
		}
		return c.JSON(upstream.StatusCode, map[string]string{
			"error": "upstream request failed",
		})
	}

	if errors.Is(err, service.ErrDirectIssuanceDisabled) {
		logger.Error("configuration error", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	logger.Error("request failed",
		"err", err,
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": containedMessage(err),
		"hint":  "check server logs",
	})
}

// containedMessage translates network-level failures into stable messages.
// The raw error stays in the logs, never in the browser response.
func containedMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}
	return err.Error()
}
