// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

// droppedRequestHeaders are connection-scoped headers that must not be
// forwarded: the transport computes its own Host and Content-Length, and
// Connection is meaningful only for the inbound hop.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Connection":     true,
	"Content-Length": true,
}

// hopByHopResponseHeaders must be stripped before relaying an upstream
// response; they describe the upstream connection, not ours.
var hopByHopResponseHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

const proxyName = "agent-proxy-go"

// ForwardService forwards arbitrary client requests to the backend while
// preserving wire-level semantics.
type ForwardService struct {
	client  *client.BackendClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewForwardService creates a ForwardService.
func NewForwardService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &ForwardService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "forward_service"),
		baseURL: u,
	}, nil
}

// NewCorrelationID returns a per-request correlation ID: unix-millis
// timestamp plus a short random suffix.
func NewCorrelationID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Forward sends a ProxyRequest to the backend and returns the response with
// hop-by-hop headers stripped and diagnostic headers added. The caller is
// responsible for closing the response body.
//
// Failures are wrapped in a *ProxyError carrying the correlation ID.
func (s *ForwardService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	correlationID := NewCorrelationID()

	upstreamURL := s.buildUpstreamURL(pr)
	header := s.filterRequestHeaders(pr.Header)

	body, err := s.selectBody(pr)
	if err != nil {
		return nil, &ProxyError{CorrelationID: correlationID, Err: fmt.Errorf("read request body: %w", err)}
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"correlation_id", correlationID,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, &ProxyError{CorrelationID: correlationID, Err: err}
	}

	resp.Header = stripHopByHop(resp.Header)
	resp.Header.Set("X-Proxied-By", proxyName)
	resp.Header.Set("X-Upstream-Url", upstreamURL)
	resp.Header.Set("X-Upstream-Status", strconv.Itoa(resp.StatusCode))
	resp.Header.Set("X-Correlation-Id", correlationID)

	// 204 and 304 carry no body regardless of what the upstream sent.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		resp.Body = http.NoBody
		resp.Header.Del("Content-Length")
	}

	return resp, nil
}

// buildUpstreamURL joins the backend base URL with the wildcard path and
// carries the original query string through unmodified. Re-encoding the
// query would reorder parameters and alter percent-escaping, so when the
// raw string is available it is preserved byte-for-byte.
func (s *ForwardService) buildUpstreamURL(pr *model.ProxyRequest) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(pr.Path, "/")
	if pr.RawQuery != "" {
		u.RawQuery = pr.RawQuery
	} else {
		u.RawQuery = pr.Query.Encode()
	}
	return u.String()
}

// filterRequestHeaders copies every inbound header except the
// connection-scoped set. Authorization passes through unchanged: the
// backend performs its own credential checks on pass-through routes.
func (s *ForwardService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	return dst
}

// selectBody chooses the body-transfer strategy by declared content type.
//
// Multipart payloads are buffered and forwarded verbatim so the boundary
// delimiter and binary part content survive byte-for-byte. JSON is read as
// text and forwarded as text. Everything else streams straight through;
// methods that carry no body forward none.
func (s *ForwardService) selectBody(pr *model.ProxyRequest) (io.Reader, error) {
	if pr.Body == nil {
		return nil, nil
	}

	contentType := strings.ToLower(pr.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(contentType, "multipart/"):
		data, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	case strings.HasPrefix(contentType, "application/json"):
		data, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, err
		}
		return strings.NewReader(string(data)), nil
	default:
		if pr.Method == http.MethodGet || pr.Method == http.MethodHead {
			return nil, nil
		}
		return pr.Body, nil
	}
}

// stripHopByHop removes hop-by-hop headers from an upstream response,
// including any named by the upstream's own Connection header.
func stripHopByHop(src http.Header) http.Header {
	for _, name := range strings.Split(src.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			src.Del(name)
		}
	}
	for _, h := range hopByHopResponseHeaders {
		src.Del(h)
	}
	return src
}
