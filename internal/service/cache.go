package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

// CacheService reads the backend's version vector. It never mutates the
// counters; the backend owns them.
type CacheService struct {
	client *client.BackendClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewCacheService creates a CacheService.
func NewCacheService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) *CacheService {
	return &CacheService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "cache_service"),
	}
}

// Versions fetches the current version vector with the session's bearer
// credential.
func (s *CacheService) Versions(ctx context.Context, session *model.Session) (*model.CacheVersions, error) {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+session.Token)

	target := strings.TrimSuffix(s.cfg.Backend.BaseURL, "/") + "/cache-state"
	resp, err := s.client.DoStream(ctx, http.MethodGet, target, header, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch cache state: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var versions model.CacheVersions
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("decode cache state: %w", err)
	}

	return &versions, nil
}
