package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader is the header carrying the ops API key.
const APIKeyHeader = "X-API-Key"

// APIKey guards mutating ops endpoints with a static shared key. An empty
// configured key disables the check (development only). Comparison is
// constant-time.
func APIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return next(c)
			}

			got := c.Request().Header.Get(APIKeyHeader)
			if got == "" {
				// Also accept Authorization: Bearer <key> for schedulers
				// that only support bearer auth.
				auth := c.Request().Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					got = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
