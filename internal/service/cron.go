package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"agent-proxy-go/internal/auth"
	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

// CronCreateRequest is the client payload for creating a scheduled job.
type CronCreateRequest struct {
	DeploymentID string         `json:"deployment_id"`
	AssistantID  string         `json:"assistant_id"`
	Schedule     string         `json:"schedule"`
	Input        map[string]any `json:"input,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CronList is the backend's job search result.
type CronList struct {
	Jobs  []json.RawMessage `json:"jobs"`
	Count int               `json:"count"`
}

// CronService proxies scheduled-job operations to the backend scheduler,
// injecting ownership and provenance metadata before forwarding.
type CronService struct {
	client    *client.BackendClient
	validator *auth.Validator
	cfg       *config.Config
	logger    *slog.Logger
}

// NewCronService creates a CronService.
func NewCronService(c *client.BackendClient, validator *auth.Validator, cfg *config.Config, logger *slog.Logger) *CronService {
	return &CronService{
		client:    c,
		validator: validator,
		cfg:       cfg,
		logger:    logger.With("component", "cron_service"),
	}
}

// Create validates the request, merges caller metadata with ownership
// fields, and forwards the create call to the backend scheduler. On success
// it returns the backend's job descriptor together with the scheduler's
// status code so the handler can relay a 201 as a 201.
func (s *CronService) Create(ctx context.Context, session *model.Session, req *CronCreateRequest) (json.RawMessage, int, error) {
	if req.DeploymentID == "" {
		return nil, 0, missingField("deployment_id")
	}
	if req.AssistantID == "" {
		return nil, 0, missingField("assistant_id")
	}
	if req.Schedule == "" {
		return nil, 0, missingField("schedule")
	}

	metadata := make(map[string]any, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// Ownership fields always win over caller-supplied metadata.
	metadata["created_by"] = session.UserID
	metadata["run_in_background"] = true
	metadata["assistant_id"] = req.AssistantID
	metadata["deployment_id"] = req.DeploymentID

	// Provenance enrichment is best-effort: a failed admin lookup must not
	// block job creation.
	if email := s.lookupEmail(ctx, session); email != "" {
		metadata["created_by_email"] = email
	}

	payload, err := json.Marshal(map[string]any{
		"deployment_id": req.DeploymentID,
		"assistant_id":  req.AssistantID,
		"schedule":      req.Schedule,
		"input":         req.Input,
		"metadata":      metadata,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode cron create: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+session.Token)

	target := strings.TrimSuffix(s.cfg.Backend.BaseURL, "/") + "/runs/crons"
	resp, err := s.client.DoStream(ctx, http.MethodPost, target, header, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create scheduled job: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read scheduler response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	return json.RawMessage(body), resp.StatusCode, nil
}

// List forwards a job search for a deployment and returns the jobs with
// their count.
func (s *CronService) List(ctx context.Context, session *model.Session, deploymentID string) (*CronList, error) {
	if deploymentID == "" {
		return nil, missingField("deployment_id")
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+session.Token)

	target := strings.TrimSuffix(s.cfg.Backend.BaseURL, "/") + "/runs/crons/search?deployment_id=" + url.QueryEscape(deploymentID)
	resp, err := s.client.DoStream(ctx, http.MethodGet, target, header, nil)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scheduler response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var jobs []json.RawMessage
	if err := json.Unmarshal(body, &jobs); err != nil {
		// Some scheduler versions wrap the list.
		var wrapped CronList
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode scheduler response: %w", err)
		}
		wrapped.Count = len(wrapped.Jobs)
		return &wrapped, nil
	}

	return &CronList{Jobs: jobs, Count: len(jobs)}, nil
}

func (s *CronService) lookupEmail(ctx context.Context, session *model.Session) string {
	if session.Email != "" {
		return session.Email
	}
	admin, err := s.validator.AdminLookup(ctx, session.UserID)
	if err != nil {
		s.logger.Debug("admin lookup skipped", "err", err)
		return ""
	}
	return admin.Email
}
