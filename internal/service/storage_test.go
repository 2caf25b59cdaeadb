package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

func testSession() *model.Session {
	return &model.Session{UserID: "user-1", Email: "user@example.com", Token: "session-token"}
}

func testRequest() *model.ProxyRequest {
	return &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

func newStorageService(t *testing.T, cfg *config.Config) *StorageService {
	t.Helper()
	logger := testLogger()
	c := client.NewBackendClient(cfg, logger, nil)
	return NewStorageService(c, nil, cfg, logger, nil)
}

func TestBrokeredGrant(t *testing.T) {
	var gotAuth, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotPath = req["storage_path"]

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":        "http://supabase-kong:8000/storage/v1/sign/abc?token=xyz",
			"expires_at": time.Now().Add(5 * time.Minute).Format(time.RFC3339),
		})
	}))
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.Storage.InternalHost = "supabase-kong:8000"
	cfg.Storage.ExternalHost = "127.0.0.1:54321"

	svc := newStorageService(t, cfg)

	grant, err := svc.BrokeredGrant(testRequest(), testSession(), "images/photo.png")
	if err != nil {
		t.Fatalf("BrokeredGrant() error = %v", err)
	}

	if gotAuth != "Bearer session-token" {
		t.Errorf("issuance Authorization = %q, want session bearer", gotAuth)
	}
	if gotPath != "images/photo.png" {
		t.Errorf("issuance storage_path = %q, want %q", gotPath, "images/photo.png")
	}
	if grant.Issuer != model.IssuerBrokered {
		t.Errorf("Issuer = %q, want %q", grant.Issuer, model.IssuerBrokered)
	}
	want := "http://127.0.0.1:54321/storage/v1/sign/abc?token=xyz"
	if grant.URL != want {
		t.Errorf("grant URL = %q, want internal host rewritten to %q", grant.URL, want)
	}
}

func TestBrokeredGrant_MissingPath(t *testing.T) {
	svc := newStorageService(t, testConfig("http://backend:8000"))

	_, err := svc.BrokeredGrant(testRequest(), testSession(), "")
	var malformed *MalformedRequestError
	if !errors.As(err, &malformed) {
		t.Fatalf("BrokeredGrant() error = %v, want *MalformedRequestError", err)
	}
	if malformed.Field != "storage_path" {
		t.Errorf("Field = %q, want %q", malformed.Field, "storage_path")
	}
}

func TestBrokeredGrant_DeniedByBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not your object"}`))
	}))
	defer backend.Close()

	svc := newStorageService(t, testConfig(backend.URL))

	_, err := svc.BrokeredGrant(testRequest(), testSession(), "images/secret.png")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("BrokeredGrant() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", upstream.StatusCode, http.StatusForbidden)
	}
}

func TestDirectGrant_Disabled(t *testing.T) {
	svc := newStorageService(t, testConfig("http://backend:8000"))

	_, err := svc.DirectGrant(testRequest(), "avatars", "user-1.png")
	if !errors.Is(err, ErrDirectIssuanceDisabled) {
		t.Fatalf("DirectGrant() error = %v, want ErrDirectIssuanceDisabled", err)
	}
}

func TestDirectGrant_MissingParams(t *testing.T) {
	svc := newStorageService(t, testConfig("http://backend:8000"))

	tests := []struct {
		name      string
		bucket    string
		path      string
		wantField string
	}{
		{"missing bucket", "", "user-1.png", "bucket"},
		{"missing path", "avatars", "", "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.DirectGrant(testRequest(), tt.bucket, tt.path)
			var malformed *MalformedRequestError
			if !errors.As(err, &malformed) {
				t.Fatalf("DirectGrant() error = %v, want *MalformedRequestError", err)
			}
			if malformed.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", malformed.Field, tt.wantField)
			}
		})
	}
}

func TestFetch_RelaysBytes(t *testing.T) {
	object := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Etag", `"abc123"`)
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer object.Close()

	svc := newStorageService(t, testConfig(object.URL))

	grant := &model.SignedURLGrant{URL: object.URL + "/signed", Issuer: model.IssuerBrokered}
	resp, err := svc.Fetch(testRequest(), grant)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != string([]byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("body = %v, want PNG magic", body)
	}
	if resp.Header.Get("Etag") != `"abc123"` {
		t.Errorf("Etag = %q, want relayed", resp.Header.Get("Etag"))
	}
}

func TestFetch_ExpiredURL(t *testing.T) {
	object := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("expired")) // object stores answer 403 for stale signatures
	}))
	defer object.Close()

	svc := newStorageService(t, testConfig(object.URL))

	grant := &model.SignedURLGrant{URL: object.URL + "/signed", Issuer: model.IssuerDirect}
	_, err := svc.Fetch(testRequest(), grant)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Fetch() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", upstream.StatusCode, http.StatusForbidden)
	}
}

func TestThreadFile_PreservesDisposition(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("storage_path") != "outputs/report.pdf" {
			t.Errorf("storage_path = %q, want %q", r.URL.Query().Get("storage_path"), "outputs/report.pdf")
		}
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer backend.Close()

	svc := newStorageService(t, testConfig(backend.URL))

	resp, err := svc.ThreadFile(testRequest(), testSession(), "outputs/report.pdf", "thread-outputs")
	if err != nil {
		t.Fatalf("ThreadFile() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="report.pdf"` {
		t.Errorf("Content-Disposition = %q, want preserved", got)
	}
}

func TestRewriteHost(t *testing.T) {
	cfg := testConfig("http://backend:8000")
	cfg.Storage.InternalHost = "supabase-kong:8000"
	cfg.Storage.ExternalHost = "127.0.0.1:54321"
	svc := newStorageService(t, cfg)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "internal alias rewritten",
			in:   "http://supabase-kong:8000/storage/v1/sign/x?token=1",
			want: "http://127.0.0.1:54321/storage/v1/sign/x?token=1",
		},
		{
			name: "no alias left unmodified",
			in:   "https://cdn.example.com/storage/v1/sign/x?token=1",
			want: "https://cdn.example.com/storage/v1/sign/x?token=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.RewriteHost(tt.in); got != tt.want {
				t.Errorf("RewriteHost(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCacheControlFor(t *testing.T) {
	if got := CacheControlFor("42"); got != "public, max-age=31536000, immutable" {
		t.Errorf("versioned Cache-Control = %q", got)
	}
	if got := CacheControlFor(""); got != "public, max-age=300, must-revalidate" {
		t.Errorf("unversioned Cache-Control = %q", got)
	}
}
