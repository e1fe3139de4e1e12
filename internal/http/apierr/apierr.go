// Package apierr maps domain errors onto HTTP responses.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/binding"
	"winsbygroup.com/licserver/internal/license"
)

// Error codes shared by every API surface.
const (
	CodeBadRequest          = "bad_request"
	CodeKeyRequired         = "licenseKey_required"
	CodeFingerprintRequired = "fingerprint_required"
	CodeNotFound            = "license_not_found"
	CodeCanceled            = "license_canceled"
	CodeInUse               = activation.CodeLicenseInUse
	CodeDuplicateKey        = "license_key_taken"
	CodeUnauthorized        = "unauthorized"
	CodeUnavailable         = "store_unavailable"
)

// RetryAfterSeconds is sent with every store_unavailable answer.
const RetryAfterSeconds = "5"

// Status returns the HTTP status and error code for err.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, activation.ErrKeyRequired):
		return http.StatusBadRequest, CodeKeyRequired
	case errors.Is(err, activation.ErrFingerprintRequired):
		return http.StatusBadRequest, CodeFingerprintRequired
	case errors.Is(err, license.ErrInvalidTerm), errors.Is(err, license.ErrInvalidKey):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, license.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, license.ErrCanceled):
		return http.StatusForbidden, CodeCanceled
	case errors.Is(err, binding.ErrFingerprintConflict):
		return http.StatusConflict, CodeInUse
	case errors.Is(err, license.ErrDuplicateKey):
		return http.StatusConflict, CodeDuplicateKey
	default:
		return http.StatusServiceUnavailable, CodeUnavailable
	}
}

// Write answers the request with the mapped error. Unmapped errors are logged
// and reported as retryable without leaking their text.
func Write(c echo.Context, log *slog.Logger, err error) error {
	status, code := Status(err)
	if status == http.StatusServiceUnavailable {
		if log != nil {
			log.ErrorContext(c.Request().Context(), "request failed",
				slog.String("path", c.Path()),
				slog.String("error", err.Error()))
		}
		c.Response().Header().Set("Retry-After", RetryAfterSeconds)
	}
	return c.JSON(status, map[string]any{"ok": false, "error": code})
}

// BadRequest answers 400 with a short reason.
func BadRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": CodeBadRequest, "reason": reason})
}
