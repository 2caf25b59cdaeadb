// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProxyRequest represents a client request to be forwarded upstream.
// It exists only for the duration of one handler invocation.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	// RawQuery, when set, is forwarded verbatim instead of re-encoding Query.
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Session is the authenticated principal attached to a validated bearer
// credential. The identity provider owns the session; this layer only reads
// it per request and never persists it.
type Session struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// GrantIssuer identifies which trust model produced a signed URL.
type GrantIssuer string

const (
	// IssuerBrokered means the backend applied its own permission check
	// before issuing the URL.
	IssuerBrokered GrantIssuer = "brokered"
	// IssuerDirect means the URL was signed with service credentials
	// against the object store, with no per-object permission check.
	IssuerDirect GrantIssuer = "direct"
)

// SignedURLGrant is a freshly issued, time-limited URL for a private
// storage object. Grants are requested anew on every client call and are
// never cached server-side: a cached grant could outlive its expiry.
type SignedURLGrant struct {
	StoragePath string      `json:"storage_path"`
	URL         string      `json:"url"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Issuer      GrantIssuer `json:"issuer"`
}

// CacheVersions is the backend's version vector: one monotonically
// non-decreasing counter per cached resource family. A counter change is an
// invalidation signal, never itself the payload.
type CacheVersions struct {
	Graphs     int64 `json:"graphs"`
	Assistants int64 `json:"assistants"`
	Schemas    int64 `json:"schemas"`
	Threads    int64 `json:"threads"`
}
