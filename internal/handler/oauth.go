package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// OAuthHandler serves the stateless OAuth discovery stub and RFC 7591
// dynamic client registration. Nothing here is persisted: registration
// issues an ephemeral client ID and the backend validates it downstream.
type OAuthHandler struct {
	logger *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{logger: logger.With("component", "oauth_handler")}
}

// registrationRequest is the RFC 7591 client metadata we accept.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// DiscoveryInfo handles GET /.well-known/oauth-authorization-server-info.
// Only RFC 8414 discovery is supported; this legacy-probe path answers with
// a pointer to the correct document.
func (h *OAuthHandler) DiscoveryInfo(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":             "invalid_request",
		"error_description": "use RFC 8414 discovery at /.well-known/oauth-authorization-server",
	})
}

// Register handles POST /oauth/register (RFC 7591). Validation only; the
// issued client ID is ephemeral and nothing is stored.
func (h *OAuthHandler) Register(c echo.Context) error {
	var req registrationRequest
	if err := c.Bind(&req); err != nil {
		return registrationError(c, "invalid_client_metadata", "request body must be JSON")
	}

	if req.ClientName == "" {
		return registrationError(c, "invalid_client_metadata", "client_name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return registrationError(c, "invalid_redirect_uri", "redirect_uris must contain at least one URI")
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return registrationError(c, "invalid_redirect_uri", "redirect URI must be an absolute http(s) URL: "+raw)
		}
	}

	clientID := uuid.NewString()
	h.logger.Info("registered ephemeral client",
		"client_id", clientID,
		"client_name", req.ClientName,
	)

	return c.JSON(http.StatusCreated, map[string]any{
		"client_id":                  clientID,
		"client_id_issued_at":        time.Now().Unix(),
		"client_name":                req.ClientName,
		"redirect_uris":              req.RedirectURIs,
		"grant_types":                req.GrantTypes,
		"response_types":             req.ResponseTypes,
		"token_endpoint_auth_method": req.TokenEndpointAuthMethod,
		"scope":                      req.Scope,
	})
}

func registrationError(c echo.Context, code, description string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
