package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger emits one structured line per request. The identifiers that scope
// most endpoints in this service (pharmacy, resource id) are promoted to
// their own fields so a scan run can be traced across request logs.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			// echo.HTTPError carries the status that will actually be
			// written; Response().Status is stale until then.
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			evt := logger.Info()
			if err != nil || status >= http.StatusInternalServerError {
				evt = logger.Error().Err(err)
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if ph := c.Param("pharmacyId"); ph != "" {
				evt = evt.Str("pharmacy_id", ph)
			}
			if id := c.Param("id"); id != "" {
				evt = evt.Str("resource_id", id)
			}
			evt.Msg("request")

			return err
		}
	}
}
