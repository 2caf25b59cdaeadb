package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-proxy-go/internal/auth"
	"agent-proxy-go/internal/client"
	"agent-proxy-go/internal/config"
)

func newCronService(t *testing.T, baseURL string) *CronService {
	t.Helper()
	cfg := testConfig(baseURL)
	cfg.Auth = config.AuthConfig{ProviderURL: "http://identity:8000", AnonKey: "anon"}
	logger := testLogger()
	validator := auth.NewValidator(cfg, logger, nil)
	return NewCronService(client.NewBackendClient(cfg, logger, nil), validator, cfg, logger)
}

func TestCronCreate_RequiredFields(t *testing.T) {
	svc := newCronService(t, "http://backend:8000")

	tests := []struct {
		name      string
		req       CronCreateRequest
		wantField string
	}{
		{
			name:      "missing deployment_id",
			req:       CronCreateRequest{AssistantID: "a-1", Schedule: "0 9 * * 1"},
			wantField: "deployment_id",
		},
		{
			name:      "missing assistant_id",
			req:       CronCreateRequest{DeploymentID: "d-1", Schedule: "0 9 * * 1"},
			wantField: "assistant_id",
		},
		{
			name:      "missing schedule",
			req:       CronCreateRequest{DeploymentID: "d-1", AssistantID: "a-1"},
			wantField: "schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(context.Background(), testSession(), &tt.req)
			var malformed *MalformedRequestError
			if !errors.As(err, &malformed) {
				t.Fatalf("Create() error = %v, want *MalformedRequestError", err)
			}
			if malformed.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", malformed.Field, tt.wantField)
			}
		})
	}
}

func TestCronCreate_InjectsOwnershipMetadata(t *testing.T) {
	var gotPayload map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"cron_id":"cron-1"}`))
	}))
	defer backend.Close()

	svc := newCronService(t, backend.URL)

	req := &CronCreateRequest{
		DeploymentID: "d-1",
		AssistantID:  "a-1",
		Schedule:     "0 9 * * 1",
		Metadata: map[string]any{
			"label": "weekly digest",
			// A caller must not be able to claim someone else's identity.
			"created_by": "someone-else",
		},
	}

	job, status, err := svc.Create(context.Background(), testSession(), req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if status != http.StatusCreated {
		t.Errorf("status = %d, want the scheduler's 201 relayed", status)
	}

	var descriptor map[string]string
	if err := json.Unmarshal(job, &descriptor); err != nil {
		t.Fatalf("descriptor is not JSON: %v", err)
	}
	if descriptor["cron_id"] != "cron-1" {
		t.Errorf("cron_id = %q, want %q", descriptor["cron_id"], "cron-1")
	}

	metadata, ok := gotPayload["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("forwarded payload has no metadata object: %v", gotPayload)
	}
	if metadata["created_by"] != "user-1" {
		t.Errorf("created_by = %v, want the session principal", metadata["created_by"])
	}
	if metadata["run_in_background"] != true {
		t.Errorf("run_in_background = %v, want true", metadata["run_in_background"])
	}
	if metadata["assistant_id"] != "a-1" {
		t.Errorf("assistant_id = %v, want injected", metadata["assistant_id"])
	}
	if metadata["deployment_id"] != "d-1" {
		t.Errorf("deployment_id = %v, want injected", metadata["deployment_id"])
	}
	if metadata["label"] != "weekly digest" {
		t.Errorf("label = %v, want caller metadata preserved", metadata["label"])
	}
	if metadata["created_by_email"] != "user@example.com" {
		t.Errorf("created_by_email = %v, want session email", metadata["created_by_email"])
	}
}

func TestCronList(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("deployment_id"); got != "d-1" {
			t.Errorf("deployment_id = %q, want %q", got, "d-1")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
			t.Errorf("Authorization = %q, want session bearer", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"cron_id":"c-1"},{"cron_id":"c-2"}]`))
	}))
	defer backend.Close()

	svc := newCronService(t, backend.URL)

	list, err := svc.List(context.Background(), testSession(), "d-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.Count != 2 {
		t.Errorf("Count = %d, want 2", list.Count)
	}
	if len(list.Jobs) != 2 {
		t.Errorf("len(Jobs) = %d, want 2", len(list.Jobs))
	}
}

func TestCronList_MissingDeployment(t *testing.T) {
	svc := newCronService(t, "http://backend:8000")

	_, err := svc.List(context.Background(), testSession(), "")
	var malformed *MalformedRequestError
	if !errors.As(err, &malformed) {
		t.Fatalf("List() error = %v, want *MalformedRequestError", err)
	}
	if malformed.Field != "deployment_id" {
		t.Errorf("Field = %q, want %q", malformed.Field, "deployment_id")
	}
}

func TestCronCreate_SchedulerFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"scheduler unavailable"}`))
	}))
	defer backend.Close()

	svc := newCronService(t, backend.URL)

	req := &CronCreateRequest{DeploymentID: "d-1", AssistantID: "a-1", Schedule: "0 9 * * 1"}
	_, _, err := svc.Create(context.Background(), testSession(), req)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Create() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", upstream.StatusCode)
	}
}
