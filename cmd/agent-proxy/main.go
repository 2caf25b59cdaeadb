package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"agent-proxy-go/internal/auth"
	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/handler"
	"agent-proxy-go/internal/metrics"
	"agent-proxy-go/internal/middleware"
	"agent-proxy-go/internal/poller"
	"agent-proxy-go/internal/service"
	"agent-proxy-go/internal/storage"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("agent-proxy"),
		kong.Description("Proxy and cache-coherency layer for the agent platform backend."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newSigner,
			auth.NewValidator,
			client.NewBackendClient,
			service.NewForwardService,
			service.NewDocumentService,
			service.NewStorageService,
			service.NewCronService,
			service.NewCacheService,
			handler.NewProxyHandler,
			handler.NewDocumentHandler,
			handler.NewStorageHandler,
			handler.NewCronHandler,
			handler.NewCacheHandler,
			handler.NewOAuthHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetrics, warnConfigPermissions, startCachePoller, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newSigner(cfg *config.Config, logger *slog.Logger) (*storage.Signer, error) {
	return storage.NewSigner(context.Background(), cfg, logger)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running streamed
	// responses. Protection is provided by the upstream client timeout, ReadTimeout,
	// and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startCachePoller watches the backend's version vector with the
// service-role credential so invalidation activity is visible in the proxy
// logs. Skipped when no service-role key is configured.
func startCachePoller(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) {
	if cfg.Auth.ServiceRoleKey == "" {
		return
	}

	endpoint := strings.TrimSuffix(cfg.Backend.BaseURL, "/") + "/cache-state"
	interval := time.Duration(cfg.Cache.PollIntervalSeconds) * time.Second
	p := poller.New(endpoint, nil, func() string { return cfg.Auth.ServiceRoleKey }, interval, logger)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p.Start(context.Background())
			go func() {
				for sig := range p.Signals() {
					logger.Info("cache invalidation observed",
						"family", string(sig.Family),
						"from", sig.From,
						"to", sig.To,
					)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			p.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
