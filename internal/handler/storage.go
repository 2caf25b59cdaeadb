package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/model"
	"agent-proxy-go/internal/service"
)

// Upstream fetch headers relayed to the browser for streamed objects.
var relayedObjectHeaders = []string{
	"Content-Length",
	"Etag",
	"Last-Modified",
}

// StorageHandler serves the signed-URL broker endpoints.
type StorageHandler struct {
	service *service.StorageService
	logger  *slog.Logger
}

// NewStorageHandler creates a StorageHandler.
func NewStorageHandler(svc *service.StorageService, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{
		service: svc,
		logger:  logger.With("component", "storage_handler"),
	}
}

// Image handles GET /proxy/storage/image/{...path}: backend-brokered
// issuance, hostname rewrite, then a byte stream with cache headers chosen
// by the ?v= cache-buster on the original request.
func (h *StorageHandler) Image(c echo.Context) error {
	pr := requestOf(c)
	session := sessionFrom(c)

	grant, err := h.service.BrokeredGrant(pr, session, c.Param("*"))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	resp, err := h.service.Fetch(pr, grant)
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relayObjectHeaders(c, resp)
	c.Response().Header().Set("Cache-Control", service.CacheControlFor(c.QueryParam("v")))

	return c.Stream(resp.StatusCode, contentTypeOf(resp), resp.Body)
}

// ImageDirect handles GET /proxy/storage/image?path=&bucket=: service-
// credential issuance for low-sensitivity buckets, no backend round trip.
func (h *StorageHandler) ImageDirect(c echo.Context) error {
	pr := requestOf(c)

	grant, err := h.service.DirectGrant(pr, c.QueryParam("bucket"), c.QueryParam("path"))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	resp, err := h.service.Fetch(pr, grant)
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relayObjectHeaders(c, resp)
	c.Response().Header().Set("Cache-Control", service.CacheControlDirectIssued)

	return c.Stream(resp.StatusCode, contentTypeOf(resp), resp.Body)
}

// SignedURL handles GET /proxy/storage/signed-url?storage_path=: returns
// the brokered grant itself instead of streaming bytes.
func (h *StorageHandler) SignedURL(c echo.Context) error {
	pr := requestOf(c)
	session := sessionFrom(c)

	grant, err := h.service.BrokeredGrant(pr, session, c.QueryParam("storage_path"))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, grant)
}

// ThreadFile handles GET /proxy/storage/thread-file?storage_path=&bucket=:
// streams the backend's ownership-checked download, preserving the
// attachment disposition.
func (h *StorageHandler) ThreadFile(c echo.Context) error {
	pr := requestOf(c)
	session := sessionFrom(c)

	resp, err := h.service.ThreadFile(pr, session, c.QueryParam("storage_path"), c.QueryParam("bucket"))
	if err != nil {
		return writeServiceError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relayObjectHeaders(c, resp)
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		c.Response().Header().Set("Content-Disposition", cd)
	}

	return c.Stream(resp.StatusCode, contentTypeOf(resp), resp.Body)
}

func (h *StorageHandler) relayObjectHeaders(c echo.Context, resp *model.ProxyResponse) {
	for _, key := range relayedObjectHeaders {
		if v := resp.Header.Get(key); v != "" {
			c.Response().Header().Set(key, v)
		}
	}
}

// requestOf builds the per-invocation ProxyRequest view of the echo context.
func requestOf(c echo.Context) *model.ProxyRequest {
	req := c.Request()
	return &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		Query:    req.URL.Query(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}
}

func contentTypeOf(resp *model.ProxyResponse) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return echo.MIMEOctetStream
}
