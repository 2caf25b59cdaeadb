// Package handler wires the proxy's HTTP surface onto Echo.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/model"
	"agent-proxy-go/internal/service"
)

// ProxyHandler is the catch-all forwarder: it relays arbitrary requests to
// the backend while preserving wire-level semantics.
type ProxyHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     c.Param("*"),
		Query:    req.URL.Query(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		var proxyErr *service.ProxyError
		if errors.As(err, &proxyErr) {
			h.logger.Error("forward failed",
				"err", proxyErr.Err,
				"correlation_id", proxyErr.CorrelationID,
				"path", req.URL.Path,
			)
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error":          containedMessage(proxyErr.Err),
				"hint":           "check server logs",
				"correlation_id": proxyErr.CorrelationID,
			})
		}
		return writeServiceError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream the status has already been sent, so the client receives
	// a truncated response with the original status; log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}
