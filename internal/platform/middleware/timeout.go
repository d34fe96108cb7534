package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a deadline on the request context. The handler runs on
// the request goroutine and is expected to observe ctx; once it returns past
// the deadline without having written a response, a 504 with an {"error"}
// body is sent. Nothing else writes to the context while the handler runs.
// Image transforms carry their own shorter deadline inside the renderer.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			return gatewayTimeoutError(c)
		}
	}
}

func gatewayTimeoutError(c echo.Context) error {
	if !c.Response().Committed {
		return jsonError(c, http.StatusGatewayTimeout, "Request processing exceeded the allowed time limit")
	}
	return nil
}
