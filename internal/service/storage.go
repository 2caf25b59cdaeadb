package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/metrics"
	"agent-proxy-go/internal/model"
	"agent-proxy-go/internal/storage"
)

// Cache-Control values for streamed storage objects. Cache-busted requests
// (?v=...) are content-addressed and can be cached forever; un-busted paths
// may be overwritten in place, so clients must revalidate quickly.
const (
	CacheControlImmutable    = "public, max-age=31536000, immutable"
	CacheControlRevalidate   = "public, max-age=300, must-revalidate"
	CacheControlDirectIssued = "public, max-age=3600, stale-while-revalidate=86400"
)

// signedURLResponse is the backend's issuance payload.
type signedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StorageService brokers signed URLs for private storage objects and
// streams their bytes back to the client.
type StorageService struct {
	client  *client.BackendClient
	signer  *storage.Signer
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStorageService creates a StorageService. signer may be nil when direct
// issuance is disabled; metrics may be nil.
func NewStorageService(c *client.BackendClient, signer *storage.Signer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StorageService {
	return &StorageService{
		client:  c,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With("component", "storage_service"),
		metrics: m,
	}
}

// BrokeredGrant asks the backend for a permission-checked signed URL for
// storagePath on behalf of the session, then rewrites any container-internal
// hostname to its externally routable equivalent.
//
// Grants are requested fresh on every call; caching one risks handing the
// client an expired URL.
func (s *StorageService) BrokeredGrant(pr *model.ProxyRequest, session *model.Session, storagePath string) (*model.SignedURLGrant, error) {
	if storagePath == "" {
		return nil, missingField("storage_path")
	}

	payload, err := json.Marshal(map[string]string{"storage_path": storagePath})
	if err != nil {
		return nil, fmt.Errorf("encode issuance request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+session.Token)

	issueURL := strings.TrimSuffix(s.cfg.Backend.BaseURL, "/") + "/storage/signed-url"
	resp, err := s.client.DoStream(pr.Ctx, http.MethodPost, issueURL, header, bytes.NewReader(payload))
	if err != nil {
		s.observeGrant(model.IssuerBrokered, "error")
		return nil, fmt.Errorf("signed URL issuance: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.observeGrant(model.IssuerBrokered, "denied")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var issued signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		s.observeGrant(model.IssuerBrokered, "error")
		return nil, fmt.Errorf("decode issuance response: %w", err)
	}
	if issued.URL == "" {
		s.observeGrant(model.IssuerBrokered, "error")
		return nil, fmt.Errorf("issuance response carries no url")
	}

	s.observeGrant(model.IssuerBrokered, "ok")
	return &model.SignedURLGrant{
		StoragePath: storagePath,
		URL:         s.RewriteHost(issued.URL),
		ExpiresAt:   issued.ExpiresAt,
		Issuer:      model.IssuerBrokered,
	}, nil
}

// DirectGrant issues a signed URL straight from the object store using
// service credentials. No backend round trip, no per-object permission
// check; session presence is the only gate.
func (s *StorageService) DirectGrant(pr *model.ProxyRequest, bucket, path string) (*model.SignedURLGrant, error) {
	if bucket == "" {
		return nil, missingField("bucket")
	}
	if path == "" {
		return nil, missingField("path")
	}
	if s.signer == nil {
		return nil, ErrDirectIssuanceDisabled
	}

	grant, err := s.signer.SignGet(pr.Ctx, bucket, path)
	if err != nil {
		s.observeGrant(model.IssuerDirect, "error")
		return nil, err
	}
	s.observeGrant(model.IssuerDirect, "ok")
	return grant, nil
}

// Fetch retrieves the bytes behind a signed URL. Non-2xx statuses are
// returned as UpstreamError so the handler propagates them; the caller owns
// the response body on success.
func (s *StorageService) Fetch(pr *model.ProxyRequest, grant *model.SignedURLGrant) (*model.ProxyResponse, error) {
	resp, err := s.client.DoStream(pr.Ctx, http.MethodGet, grant.URL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch signed object: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	return resp, nil
}

// ThreadFile streams a job-output file through the backend, which performs
// the ownership check. The response is returned as-is so the handler can
// preserve Content-Disposition.
func (s *StorageService) ThreadFile(pr *model.ProxyRequest, session *model.Session, storagePath, bucket string) (*model.ProxyResponse, error) {
	if storagePath == "" {
		return nil, missingField("storage_path")
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+session.Token)

	fileURL := strings.TrimSuffix(s.cfg.Backend.BaseURL, "/") + "/storage/thread-file?storage_path=" + url.QueryEscape(storagePath)
	if bucket != "" {
		fileURL += "&bucket=" + url.QueryEscape(bucket)
	}

	resp, err := s.client.DoStream(pr.Ctx, http.MethodGet, fileURL, header, nil)
	if err != nil {
		return nil, fmt.Errorf("thread file download: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	return resp, nil
}

// RewriteHost substitutes the container-internal hostname with its
// externally reachable equivalent. This is a fixed string substitution, not
// a general URL rewrite: development topologies alias one host, nothing more.
func (s *StorageService) RewriteHost(signedURL string) string {
	internal := s.cfg.Storage.InternalHost
	external := s.cfg.Storage.ExternalHost
	if internal == "" || external == "" {
		return signedURL
	}
	return strings.Replace(signedURL, internal, external, 1)
}

// CacheControlFor picks response caching for a streamed object from the
// presence of the cache-busting version parameter on the original request.
func CacheControlFor(version string) string {
	if version != "" {
		return CacheControlImmutable
	}
	return CacheControlRevalidate
}

func (s *StorageService) observeGrant(issuer model.GrantIssuer, outcome string) {
	if s.metrics != nil {
		s.metrics.SignedURLsIssued.WithLabelValues(string(issuer), outcome).Inc()
	}
}
