package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/auth"
	"agent-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
//
// Echo prefers more specific routes over the /proxy/* wildcard, so the
// session-gated endpoints below shadow the catch-all forwarder. The
// catch-all itself is pass-through: the backend enforces its own
// credential checks on those paths.
func RegisterRoutes(
	e *echo.Echo,
	validator *auth.Validator,
	logger *slog.Logger,
	proxy *ProxyHandler,
	documents *DocumentHandler,
	storage *StorageHandler,
	crons *CronHandler,
	cache *CacheHandler,
	oauth *OAuthHandler,
	health *HealthHandler,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/.well-known/oauth-authorization-server-info", oauth.DiscoveryInfo)
	e.POST("/oauth/register", oauth.Register)

	gated := middleware.RequireSession(validator, logger)

	e.PUT("/proxy/collections/:cid/documents/:did/content", documents.ReplaceContent, gated)
	e.PUT("/proxy/collections/:cid/documents/:did/image", documents.ReplaceImage, gated)

	e.GET("/proxy/storage/image", storage.ImageDirect, gated)
	e.GET("/proxy/storage/image/*", storage.Image, gated)
	e.GET("/proxy/storage/signed-url", storage.SignedURL, gated)
	e.GET("/proxy/storage/thread-file", storage.ThreadFile, gated)

	e.GET("/proxy/crons", crons.List, gated)
	e.POST("/proxy/crons", crons.Create, gated)

	e.GET("/proxy/cache-state", cache.State, gated)

	e.Any("/proxy/*", proxy.Handle)
}
