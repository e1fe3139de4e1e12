package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/version"
)

// VersionHeader is set on every response.
const VersionHeader = "X-Licserver-Version"

type versionKey struct{}

// Version adds the server version to the request context and the response headers.
func Version() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), versionKey{}, version.Version)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(VersionHeader, version.Version)
			return next(c)
		}
	}
}

// GetVersion retrieves the version from context.
func GetVersion(ctx context.Context) string {
	if v, ok := ctx.Value(versionKey{}).(string); ok {
		return v
	}
	return version.Version
}
