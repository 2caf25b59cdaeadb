package service

import (
	"errors"
	"fmt"
)

// ErrDirectIssuanceDisabled is returned when a direct-issuance storage
// endpoint is hit but no service credentials are configured.
var ErrDirectIssuanceDisabled = errors.New("storage.direct is not enabled; set storage.direct.endpoint and credentials")

// MalformedRequestError reports a missing or invalid request field.
// Handlers render it as 400 with a machine-readable code.
type MalformedRequestError struct {
	Field   string
	Message string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// missingField builds the common "required field absent" case.
func missingField(field string) *MalformedRequestError {
	return &MalformedRequestError{Field: field, Message: "is required"}
}

// UpstreamError carries a backend non-2xx response through the service
// layer so handlers can propagate the status and body verbatim.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ProxyError wraps an internal failure during forwarding with the request's
// correlation ID so logs and the 500 response can be matched up.
type ProxyError struct {
	CorrelationID string
	Err           error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy request %s: %v", e.CorrelationID, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }
