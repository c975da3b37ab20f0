package middleware

import "github.com/labstack/echo/v4"

// NoStore disables intermediary caching on every response. Clinical
// payloads must never be served stale or from a shared cache.
func NoStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
			return next(c)
		}
	}
}
