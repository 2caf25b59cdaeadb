package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/model"
	"agent-proxy-go/internal/service"
)

// DocumentHandler serves the narrow authenticated proxy endpoints that
// replace a document's binary content or image.
type DocumentHandler struct {
	service *service.DocumentService
	logger  *slog.Logger
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(svc *service.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: svc,
		logger:  logger.With("component", "document_handler"),
	}
}

// ReplaceContent handles PUT /proxy/collections/:cid/documents/:did/content.
func (h *DocumentHandler) ReplaceContent(c echo.Context) error {
	return h.replace(c, "content")
}

// ReplaceImage handles PUT /proxy/collections/:cid/documents/:did/image.
func (h *DocumentHandler) ReplaceImage(c echo.Context) error {
	return h.replace(c, "image")
}

func (h *DocumentHandler) replace(c echo.Context, kind string) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Replace(pr, sessionFrom(c), c.Param("cid"), c.Param("did"), kind)
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Stream(resp.StatusCode, contentType, resp.Body)
}
