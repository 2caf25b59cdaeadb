package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

// DocumentService replaces document content and images on the backend on
// behalf of an authenticated session.
type DocumentService struct {
	client *client.BackendClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) *DocumentService {
	return &DocumentService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "document_service"),
	}
}

// Replace forwards a multipart form body unmodified to the backend's
// document endpoint. The session's bearer credential is force-set as the
// authorization header; a client-supplied one is never trusted for this
// narrower proxy shape.
//
// The kind segment selects the backend endpoint ("content" or "image").
func (s *DocumentService) Replace(pr *model.ProxyRequest, session *model.Session, collectionID, documentID, kind string) (*model.ProxyResponse, error) {
	if collectionID == "" {
		return nil, missingField("collection_id")
	}
	if documentID == "" {
		return nil, missingField("document_id")
	}

	contentType := pr.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "multipart/") {
		return nil, &MalformedRequestError{Field: "content-type", Message: "must be multipart/form-data"}
	}

	// Buffer the body whole: the multipart boundary and binary part
	// content must arrive upstream byte-identical.
	body, err := io.ReadAll(pr.Body)
	if err != nil {
		return nil, fmt.Errorf("read multipart body: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Authorization", "Bearer "+session.Token)

	target := fmt.Sprintf("%s/collections/%s/documents/%s/%s",
		strings.TrimSuffix(s.cfg.Backend.BaseURL, "/"), collectionID, documentID, kind)

	resp, err := s.client.DoStream(pr.Ctx, http.MethodPut, target, header, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replace document %s: %w", kind, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: detail}
	}

	return resp, nil
}
