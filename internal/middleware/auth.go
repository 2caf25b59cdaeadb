package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-proxy-go/internal/auth"
)

// SessionKey is the echo context key under which RequireSession stores the
// validated *model.Session.
const SessionKey = "session"

// RequireSession returns middleware that validates the bearer credential
// before the handler runs. Requests without a valid session are rejected
// with 401 and never reach the backend.
//
// 401 is reserved for credential problems. A validation attempt that fails
// for any other reason (provider unreachable, timeout, bad payload) is an
// internal failure: answering 401 there would tell every client its session
// is invalid during a provider outage.
func RequireSession(validator *auth.Validator, logger *slog.Logger) echo.MiddlewareFunc {
	log := logger.With("component", "session_gate")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.BearerToken(c.Request().Header)
			session, err := validator.Validate(c.Request().Context(), token)
			if err != nil {
				if credentialError(err) {
					if !errors.Is(err, auth.ErrNoSession) {
						log.Info("session rejected",
							"path", c.Request().URL.Path,
							"err", err,
						)
					}
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "authentication required",
					})
				}
				log.Error("session validation failed",
					"path", c.Request().URL.Path,
					"err", err,
				)
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"error": "session validation unavailable",
					"hint":  "check server logs",
				})
			}
			c.Set(SessionKey, session)
			return next(c)
		}
	}
}

// credentialError reports whether err describes the credential itself rather
// than a failure to check it.
func credentialError(err error) bool {
	return errors.Is(err, auth.ErrNoSession) ||
		errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, auth.ErrInvalidSession)
}
