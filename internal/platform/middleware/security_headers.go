package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security response headers on
// every request. Responses may carry patient images, so nothing is cached.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Image bytes are served with their stored content type.
			h.Set("X-Content-Type-Options", "nosniff")

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")

			// Nothing served here should load sub-resources.
			h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")

			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")

			// The journal frontend embeds images cross-origin.
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")

			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
