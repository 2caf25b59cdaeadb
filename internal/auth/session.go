// Package auth validates bearer credentials against the identity provider.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/metrics"
	"agent-proxy-go/internal/model"
)

// Sentinel errors for session validation. Handlers map all three to 401;
// they are distinct so logs can tell an absent credential from a rejected one.
var (
	ErrNoSession      = errors.New("no bearer credential supplied")
	ErrSessionExpired = errors.New("bearer credential is expired")
	ErrInvalidSession = errors.New("identity provider rejected the credential")

	// ErrNoServiceKey is returned from admin lookups when no service-role
	// key is configured.
	ErrNoServiceKey = errors.New("auth.service_role_key is not configured")
)

// Validator checks bearer credentials with the identity provider. It holds
// no per-request state; one instance is shared by all handlers.
type Validator struct {
	httpClient *http.Client
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewValidator creates a Validator. The metrics parameter is optional;
// pass nil to disable session-check metrics.
func NewValidator(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cfg:        cfg,
		logger:     logger.With("component", "session_validator"),
		metrics:    m,
		now:        time.Now,
	}
}

// providerUser is the identity provider's user payload.
type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Validate resolves a bearer token to an authenticated session.
//
// Tokens with a parseable, already-elapsed expiry claim are rejected locally
// so that obviously stale credentials generate zero identity-provider load.
// Everything else is confirmed with the provider's user endpoint.
func (v *Validator) Validate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		v.observe("missing")
		return nil, ErrNoSession
	}

	expiry := v.localExpiry(token)
	if !expiry.IsZero() && expiry.Before(v.now()) {
		v.observe("expired")
		return nil, ErrSessionExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.Auth.ProviderURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("apikey", v.cfg.Auth.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.observe("provider_error")
		return nil, fmt.Errorf("identity provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		v.observe("rejected")
		return nil, fmt.Errorf("%w: status %d", ErrInvalidSession, resp.StatusCode)
	}

	var user providerUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		v.observe("provider_error")
		return nil, fmt.Errorf("decode user payload: %w", err)
	}
	if user.ID == "" {
		v.observe("rejected")
		return nil, fmt.Errorf("%w: user payload has no id", ErrInvalidSession)
	}

	v.observe("ok")
	return &model.Session{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresAt: expiry,
	}, nil
}

// AdminLookup fetches a user record with the service-role key. Used only
// for administrative provenance lookups; never on the request hot path.
func (v *Validator) AdminLookup(ctx context.Context, userID string) (*model.Session, error) {
	if v.cfg.Auth.ServiceRoleKey == "" {
		return nil, ErrNoServiceKey
	}

	url := fmt.Sprintf("%s/auth/v1/admin/users/%s", v.cfg.Auth.ProviderURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build admin request: %w", err)
	}
	req.Header.Set("apikey", v.cfg.Auth.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+v.cfg.Auth.ServiceRoleKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider admin lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("admin lookup for %s: status %d: %s", userID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user providerUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode admin user payload: %w", err)
	}

	return &model.Session{UserID: user.ID, Email: user.Email}, nil
}

// localExpiry extracts the exp claim without verifying the signature.
// Signature verification belongs to the identity provider; this is only a
// cheap pre-check. Returns the zero time when the token is not a parseable JWT.
func (v *Validator) localExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (v *Validator) observe(outcome string) {
	if v.metrics != nil {
		v.metrics.SessionChecks.WithLabelValues(outcome).Inc()
	}
}

// BearerToken extracts the token from an Authorization header value.
// Returns empty string when the header is absent or not a bearer scheme.
func BearerToken(header http.Header) string {
	raw := header.Get("Authorization")
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
