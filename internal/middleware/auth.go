package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader carries the admin key.
const APIKeyHeader = "X-API-Key"

// AdminAPIKeyAuth validates the X-API-Key header against apiKey.
// Used for ADMIN API endpoints. Returns 401 if authentication fails.
func AdminAPIKeyAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "admin API key not configured")
			}

			key := c.Request().Header.Get(APIKeyHeader)
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing admin API key")
			}

			if !ConstantEqual(apiKey, key) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin API key")
			}

			return next(c)
		}
	}
}

// ConstantEqual compares two secrets in constant time. Both sides are hashed
// first so the comparison does not leak the expected length.
func ConstantEqual(want, got string) bool {
	a := sha256.Sum256([]byte(want))
	b := sha256.Sum256([]byte(got))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
