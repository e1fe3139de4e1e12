package web

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the public web routes
func RegisterRoutes(e *echo.Group, h *Handler) {
	e.GET("/demo", h.DownloadDemo)
	e.HEAD("/demo", h.DownloadDemo)
}
