package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	userEmailKey     = "user_email"
	userNameKey      = "user_name"
	engineSessionKey = "engine_session"
)

// Middleware gates routes on a valid console session cookie and exposes the
// clinician identity and the relayed engine session in the echo context.
func Middleware(mgr *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session")
			}

			claims, err := mgr.Parse(cookie.Value)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
			}

			c.Set(userEmailKey, claims.Email)
			c.Set(userNameKey, claims.Name)
			c.Set(engineSessionKey, claims.EngineSession)
			return next(c)
		}
	}
}

// UserEmail returns the authenticated clinician's email, or "".
func UserEmail(c echo.Context) string {
	email, _ := c.Get(userEmailKey).(string)
	return email
}

// EngineSession returns the engine cookie pair for the current session, or "".
func EngineSession(c echo.Context) string {
	session, _ := c.Get(engineSessionKey).(string)
	return session
}
